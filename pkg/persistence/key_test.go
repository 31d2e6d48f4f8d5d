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

package persistence_test

import (
	"errors"
	"math"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

var _ = Describe("Key", func() {
	DescribeTable("NormalizeValue",
		func(in interface{}, want interface{}, ok bool) {
			got, gotOK := persistence.NormalizeValue(in)
			Expect(gotOK).To(Equal(ok))
			if ok {
				Expect(got).To(Equal(want))
			}
		},
		Entry("int", 7, 7.0, true),
		Entry("int64", int64(7), 7.0, true),
		Entry("uint8", uint8(7), 7.0, true),
		Entry("float32", float32(1.5), 1.5, true),
		Entry("json number", json.Number("2.25"), 2.25, true),
		Entry("string", "wind", "wind", true),
		Entry("bool", true, nil, false),
		Entry("nil", nil, nil, false),
		Entry("NaN", math.NaN(), nil, false),
		Entry("slice", []interface{}{1}, nil, false),
	)

	DescribeTable("CompareKeys",
		func(a, b persistence.Key, want int) {
			Expect(persistence.CompareKeys(a, b)).To(Equal(want))
			Expect(persistence.CompareKeys(b, a)).To(Equal(-want))
		},
		Entry("numbers numerically", persistence.Key{2.0}, persistence.Key{10.0}, -1),
		Entry("numbers before strings", persistence.Key{1e9}, persistence.Key{"0"}, -1),
		Entry("strings byte-wise", persistence.Key{"Z"}, persistence.Key{"a"}, -1),
		Entry("lexicographic tuples", persistence.Key{1.0, "wind"}, persistence.Key{2.0, "solar"}, -1),
		Entry("second component decides", persistence.Key{1.0, "solar"}, persistence.Key{1.0, "wind"}, -1),
		Entry("prefix first", persistence.Key{1.0}, persistence.Key{1.0, "solar"}, -1),
		Entry("equal", persistence.Key{1.0, "a"}, persistence.Key{1.0, "a"}, 0),
	)

	It("should extract keys only when every field is usable", func() {
		doc := persistence.Document{"deviceId": 3, "sensorType": "wind", "flag": true}

		key, ok := doc.KeyFor([]string{"deviceId", "sensorType"})
		Expect(ok).To(BeTrue())
		Expect(key).To(Equal(persistence.Key{3.0, "wind"}))

		_, ok = doc.KeyFor([]string{"deviceId", "missing"})
		Expect(ok).To(BeFalse())

		_, ok = doc.KeyFor([]string{"flag"})
		Expect(ok).To(BeFalse())
	})

	It("should reject unsupported key components", func() {
		_, err := persistence.NewKey(1, map[string]interface{}{})
		Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())
	})
})

var _ = Describe("KeyRange", func() {
	It("should match exact keys with Only", func() {
		r := persistence.Only(1, "wind")
		Expect(r.Contains(persistence.Key{1.0, "wind"})).To(BeTrue())
		Expect(r.Contains(persistence.Key{1.0, "solar"})).To(BeFalse())
		Expect(r.IsExact()).To(BeTrue())
	})

	It("should match leading components with Prefix", func() {
		r := persistence.Prefix(1)
		Expect(r.Contains(persistence.Key{1.0, "wind", 5.0})).To(BeTrue())
		Expect(r.Contains(persistence.Key{2.0, "wind", 5.0})).To(BeFalse())
	})

	It("should exclude open bounds", func() {
		r := persistence.Between(persistence.Key{1.0}, persistence.Key{3.0}, true, true)
		Expect(r.Contains(persistence.Key{1.0})).To(BeFalse())
		Expect(r.Contains(persistence.Key{2.0})).To(BeTrue())
		Expect(r.Contains(persistence.Key{3.0})).To(BeFalse())
	})

	It("should reject inverted bounds", func() {
		r := persistence.Between(persistence.Key{3.0}, persistence.Key{1.0}, false, false)
		Expect(errors.Is(r.Validate(1), persistence.ErrValidation)).To(BeTrue())
	})

	It("should reject bounds that do not fit the index arity", func() {
		Expect(persistence.Only(1).Validate(2)).To(HaveOccurred())
		Expect(persistence.Prefix(1, "a", 3).Validate(2)).To(HaveOccurred())
		Expect(persistence.Prefix(1).Validate(2)).To(Succeed())
	})

	It("should narrow a bounded range to a prefix", func() {
		r := persistence.Between(persistence.Key{1.0, "a", 100.0}, persistence.Key{1.0, "a", 200.0}, false, false).WithPrefix(1, "a")
		Expect(r.Contains(persistence.Key{1.0, "a", 150.0})).To(BeTrue())
		Expect(r.Contains(persistence.Key{1.0, "a", 250.0})).To(BeFalse())
	})

	It("should tell scans when no later key can match", func() {
		r := persistence.Prefix(2)
		Expect(r.Exhausted(persistence.Key{3.0, "a"}, persistence.Next)).To(BeTrue())
		Expect(r.Exhausted(persistence.Key{1.0, "a"}, persistence.Next)).To(BeFalse())
		Expect(r.Exhausted(persistence.Key{1.0, "a"}, persistence.Prev)).To(BeTrue())
	})
})

var _ = Describe("Errors", func() {
	It("should classify specialised sentinels by kind", func() {
		Expect(errors.Is(persistence.ErrUnknownIndex, persistence.ErrValidation)).To(BeTrue())
		Expect(errors.Is(persistence.ErrClosed, persistence.ErrStorageFault)).To(BeTrue())
		Expect(errors.Is(persistence.ErrNotFound, persistence.ErrValidation)).To(BeFalse())
	})

	It("should wrap backend errors as storage faults and keep the cause", func() {
		cause := errors.New("disk full")
		err := persistence.Fault("add", "devices", cause)

		Expect(errors.Is(err, persistence.ErrStorageFault)).To(BeTrue())
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("add devices"))

		var opErr *persistence.OpError
		Expect(errors.As(err, &opErr)).To(BeTrue())
		Expect(opErr.Collection).To(Equal("devices"))
	})

	It("should leave classified errors alone", func() {
		Expect(persistence.Fault("get", "devices", persistence.ErrNotFound)).To(BeIdenticalTo(persistence.ErrNotFound))
		Expect(persistence.Fault("get", "devices", nil)).To(BeNil())
	})
})
