// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
)

var (
	lastSentMu sync.Mutex
	lastSent   = map[IssueType]time.Time{}
)

// ReportIssue logs err and, unless debounced, sends it to sentry.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with tags attached to the sentry
// event, e.g. the failing store operation and collection.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]string) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	level := sentry.LevelError
	if issueType == IssueTypeWarning {
		level = sentry.LevelWarning
		log.Warnw(err.Error(), "context", context)
	} else {
		log.Errorw(err.Error(), "context", context)
	}

	if !enabled.Load() || !due(issueType) {
		return
	}

	sendSentryEvent(createSentryEvent(level, err, context))
}

// ReportStoreFault reports a failed store operation.
func ReportStoreFault(log *zap.SugaredLogger, operation, collection string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]string{
		"operation":  operation,
		"collection": collection,
	})
}

// due reports whether an issue of this type may be sent now and records the
// send.
func due(issueType IssueType) bool {
	lastSentMu.Lock()
	defer lastSentMu.Unlock()

	gap := time.Duration(debounce.Load())
	if last, ok := lastSent[issueType]; ok && gap > 0 && time.Since(last) < gap {
		return false
	}

	lastSent[issueType] = time.Now()

	return true
}
