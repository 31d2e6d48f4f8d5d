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

package alerting_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/alerting"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

func TestAlerting(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Alerting Suite")
}

type staticRules struct {
	rules []models.AlertRule
	err   error
	calls int
}

func (s *staticRules) GetByDevice(_ context.Context, deviceID int64) ([]models.AlertRule, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	var out []models.AlertRule
	for _, r := range s.rules {
		if r.DeviceID == deviceID {
			out = append(out, r)
		}
	}

	return out, nil
}

// Runtime values: constant arithmetic would be exact.
var tenth, fifth = 0.1, 0.2

var _ = Describe("Holds", func() {
	DescribeTable("applies the condition",
		func(condition models.Condition, value, threshold, tolerance float64, expected bool) {
			Expect(alerting.Holds(condition, value, threshold, tolerance)).To(Equal(expected))
		},
		Entry("greater above", models.ConditionGreater, 36.0, 35.0, 0.0, true),
		Entry("greater at threshold", models.ConditionGreater, 35.0, 35.0, 0.0, false),
		Entry("greater below", models.ConditionGreater, 34.0, 35.0, 0.0, false),
		Entry("less below", models.ConditionLess, 19.9, 20.0, 0.0, true),
		Entry("less at threshold", models.ConditionLess, 20.0, 20.0, 0.0, false),
		Entry("equal exact", models.ConditionEqual, 80.0, 80.0, 0.0, true),
		Entry("equal 20.0", models.ConditionEqual, 20.0, 20.0, 0.0, true),
		Entry("equal off by 1e-7", models.ConditionEqual, 20.0000001, 20.0, 0.0, false),
		Entry("equal after arithmetic", models.ConditionEqual, tenth+fifth, 0.3, 0.0, false),
		Entry("equal within tolerance", models.ConditionEqual, tenth+fifth, 0.3, 1e-9, true),
		Entry("equal outside tolerance", models.ConditionEqual, 0.4, 0.3, 1e-9, false),
		Entry("unknown condition", models.Condition("between"), 1.0, 1.0, 0.0, false),
	)
})

var _ = Describe("Evaluator", func() {
	var (
		ctx    context.Context
		source *staticRules
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = &staticRules{rules: []models.AlertRule{
			{ID: 1, DeviceID: 7, SensorType: models.SensorTemperature, Condition: models.ConditionGreater, Threshold: 35},
			{ID: 2, DeviceID: 7, SensorType: models.SensorWind, Condition: models.ConditionGreater, Threshold: 10},
			{ID: 3, DeviceID: 7, SensorType: models.SensorTemperature, Condition: models.ConditionGreater, Threshold: 30},
			{ID: 4, DeviceID: 7, SensorType: models.SensorTemperature, Condition: models.ConditionEqual, Threshold: 40},
			{ID: 5, DeviceID: 8, SensorType: models.SensorTemperature, Condition: models.ConditionGreater, Threshold: 0},
		}}
	})

	It("returns matching rules of the device in fetched order", func() {
		e := alerting.NewEvaluator(source)

		triggered, err := e.CheckAlert(ctx, 7, models.SensorTemperature, 40)
		Expect(err).NotTo(HaveOccurred())

		ids := make([]int64, 0, len(triggered))
		for _, r := range triggered {
			ids = append(ids, r.ID)
		}
		Expect(ids).To(Equal([]int64{1, 3, 4}))
	})

	It("is deterministic", func() {
		e := alerting.NewEvaluator(source)

		first, err := e.CheckAlert(ctx, 7, models.SensorTemperature, 36)
		Expect(err).NotTo(HaveOccurred())
		second, err := e.CheckAlert(ctx, 7, models.SensorTemperature, 36)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("returns an empty list when nothing triggers", func() {
		triggered, err := alerting.NewEvaluator(source).CheckAlert(ctx, 7, models.SensorSolar, 1e6)
		Expect(err).NotTo(HaveOccurred())
		Expect(triggered).To(BeEmpty())
	})

	It("defaults to exact equality and honours a tolerance", func() {
		Expect(alerting.NewEvaluator(source).Tolerance()).To(BeZero())

		triggered, err := alerting.NewEvaluator(source).CheckAlert(ctx, 7, models.SensorTemperature, 40.0000001)
		Expect(err).NotTo(HaveOccurred())
		Expect(triggered).To(HaveLen(2))

		triggered, err = alerting.NewEvaluator(source, alerting.WithEqualTolerance(0.001)).CheckAlert(ctx, 7, models.SensorTemperature, 40.0000001)
		Expect(err).NotTo(HaveOccurred())
		Expect(triggered).To(HaveLen(3))
	})

	It("ignores invalid tolerances", func() {
		Expect(alerting.NewEvaluator(source, alerting.WithEqualTolerance(-1)).Tolerance()).To(BeZero())
	})

	It("surfaces rule source errors", func() {
		source.err = persistence.ErrNotReady

		_, err := alerting.NewEvaluator(source).CheckAlert(ctx, 7, models.SensorWind, 12)
		Expect(errors.Is(err, persistence.ErrNotReady)).To(BeTrue())
	})

	It("evaluates a given rule list without a store", func() {
		triggered := alerting.Evaluate(source.rules, models.SensorWind, 11)
		Expect(triggered).To(HaveLen(1))
		Expect(triggered[0].ID).To(Equal(int64(2)))
	})
})
