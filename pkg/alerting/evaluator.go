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

// Package alerting decides which alert rules a sensor value triggers.
package alerting

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
)

// RuleSource returns the alert rules of a device in a stable order.
// *repository.AlertRepository satisfies it.
type RuleSource interface {
	GetByDevice(ctx context.Context, deviceID int64) ([]models.AlertRule, error)
}

type Option func(*Evaluator)

// WithEqualTolerance makes the equal condition hold when
// |value-threshold| <= tolerance. Negative and non-finite tolerances are
// ignored.
func WithEqualTolerance(tolerance float64) Option {
	return func(e *Evaluator) {
		if tolerance >= 0 && !math.IsInf(tolerance, 0) {
			e.tolerance = tolerance
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Evaluator) {
		e.log = log
	}
}

// Evaluator checks sensor values against stored alert rules.
//
// The equal condition compares float64 values exactly unless a tolerance is
// configured. Values that went through arithmetic or decimal parsing rarely
// match a threshold bit for bit: 0.1+0.2 does not equal a threshold of 0.3.
// Configure WithEqualTolerance when rules use equal on measured values.
type Evaluator struct {
	rules     RuleSource
	log       *zap.SugaredLogger
	tolerance float64
}

func NewEvaluator(rules RuleSource, opts ...Option) *Evaluator {
	e := &Evaluator{rules: rules}
	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}

	return e
}

// Tolerance returns the configured equal tolerance.
func (e *Evaluator) Tolerance() float64 {
	return e.tolerance
}

// CheckAlert returns the rules of the device for sensorType whose condition
// holds for value, in the order the rule source returned them. It is
// deterministic for a given set of stored rules.
func (e *Evaluator) CheckAlert(ctx context.Context, deviceID int64, sensorType models.SensorType, value float64) ([]models.AlertRule, error) {
	rules, err := e.rules.GetByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert rules of device %d: %w", deviceID, err)
	}

	triggered := EvaluateWithTolerance(rules, sensorType, value, e.tolerance)

	for _, rule := range triggered {
		metrics.IncAlertTriggered(string(rule.SensorType), string(rule.Condition))
		e.log.Infof("Alert rule %d triggered on device %d: %s %v %s %v", rule.ID, deviceID, sensorType, value, rule.Condition, rule.Threshold)
	}

	return triggered, nil
}

// Evaluate filters rules with exact equality.
func Evaluate(rules []models.AlertRule, sensorType models.SensorType, value float64) []models.AlertRule {
	return EvaluateWithTolerance(rules, sensorType, value, 0)
}

// EvaluateWithTolerance keeps the rules for sensorType whose condition holds
// for value, preserving their order.
func EvaluateWithTolerance(rules []models.AlertRule, sensorType models.SensorType, value, tolerance float64) []models.AlertRule {
	out := []models.AlertRule{}

	for _, rule := range rules {
		if rule.SensorType == sensorType && Holds(rule.Condition, value, rule.Threshold, tolerance) {
			out = append(out, rule)
		}
	}

	return out
}

// Holds applies one condition. Unknown conditions never hold.
func Holds(condition models.Condition, value, threshold, tolerance float64) bool {
	switch condition {
	case models.ConditionGreater:
		return value > threshold
	case models.ConditionLess:
		return value < threshold
	case models.ConditionEqual:
		if tolerance == 0 {
			return value == threshold
		}

		return math.Abs(value-threshold) <= tolerance
	default:
		return false
	}
}
