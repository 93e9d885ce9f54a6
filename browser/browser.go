// Package browser implements the Query/Slice engine: expands slice
// parameters into dimension value sets, enumerates the combinatorial
// key space, and assembles result rows from stored measures.
package browser

import (
	"context"
	"sort"
	"strconv"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/apperr"
	"github.com/pulsegrid/aggregator/dimension"
	"github.com/pulsegrid/aggregator/keyconstruct"
	"github.com/pulsegrid/aggregator/measure"
	"github.com/pulsegrid/aggregator/registry"
	"github.com/pulsegrid/aggregator/store"
)

// Browser answers slice-and-dice queries over an analytics' aggregates.
type Browser struct {
	reg     *registry.Registry
	dataFor func(dataDB int) (store.Store, error)
}

// New returns a Browser. dataFor resolves an analytics' data_db index
// to the store connection holding its aggregates.
func New(conf store.Store, dataFor func(dataDB int) (store.Store, error)) *Browser {
	return &Browser{reg: registry.New(conf), dataFor: dataFor}
}

// Row is one output record: dimension values plus measure values.
type Row map[string]any

// Result is the Browser's response envelope.
type Result struct {
	Status string `json:"status"`
	Data   []Row  `json:"data"`
}

// dimValue pairs a dimension name with its sorted candidate values.
type dimValue struct {
	name   string
	values []string
}

// Query answers a browse request for the given analytics name, where
// sliceArgs maps each slice_dimension name to a range expression.
func (b *Browser) Query(ctx context.Context, name string, sliceArgs map[string]string) (*Result, error) {
	active, err := b.reg.IsActive(ctx, name)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperr.New(apperr.ErrNotFound, "analytics %q is not active", name)
	}
	def, err := b.reg.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := b.dataFor(def.DataDB)
	if err != nil {
		return nil, apperr.New(apperr.ErrServiceUnavailable, "open data store: %v", err)
	}

	dRange := map[string][]string{}
	for _, d := range def.SliceDimensions {
		entry := def.Mapping[d]
		expr, ok := sliceArgs[d]
		if !ok {
			return nil, apperr.New(apperr.ErrMissingSliceParameter, "%s", d)
		}
		set, err := dimension.Expand(dimension.Type(entry.Type), expr)
		if err != nil {
			return nil, err
		}
		dRange[d] = dimension.SortedKeys(set)
	}

	qnos := def.QnosDimensions()
	snoq := def.SnoqDimensions()

	sliceRange := getRange(def.SliceDimensions, dRange)
	snoqRange := getRange(snoq, dRange)

	for _, qd := range qnos {
		observed := map[string]struct{}{}
		for _, sKey := range combinatorialKeys(sliceRange) {
			refCountKey := keyconstruct.Build("RefCount", tupleToKeyParts(sKey), qd)
			keys, err := data.HKeys(ctx, refCountKey)
			if err != nil {
				return nil, err
			}
			for _, k := range keys {
				observed[k] = struct{}{}
			}
		}
		dRange[qd] = dimension.SortedKeys(observed)
	}

	queryRange := getRange(def.QueryDimensions, dRange)
	snoqKeys := combinatorialKeys(snoqRange)

	var out []Row
	for _, qKey := range combinatorialKeys(queryRange) {
		row := Row{}
		for _, p := range qKey {
			row[p.dim] = p.value
		}

		for _, m := range def.Measures {
			entry := def.Mapping[m]
			isFloat := measure.Type(entry.Type).IsFloat()
			row[m] = 0

			switch len(snoqKeys) {
			case 0:
				val, present, err := readMeasure(ctx, data, entry, keyconstruct.Build(m, tupleToKeyParts(qKey), nil))
				if err != nil {
					return nil, err
				}
				if present {
					row[m] = coerce(val, isFloat)
				}
			case 1:
				valKey := keyconstruct.Build(m, tupleToKeyParts(qKey), tupleToKeyParts(snoqKeys[0]))
				val, present, err := readMeasure(ctx, data, entry, valKey)
				if err != nil {
					return nil, err
				}
				if present {
					row[m] = coerce(val, isFloat)
				}
			default:
				if measure.Type(entry.Type) == measure.TypeUnique {
					return nil, apperr.New(apperr.ErrAggregateNotSupported, "measure type 'unique' cannot be aggregated")
				}
				sum := 0.0
				any := false
				for _, snoqKey := range snoqKeys {
					valKey := keyconstruct.Build(m, tupleToKeyParts(qKey), tupleToKeyParts(snoqKey))
					val, present, err := readMeasure(ctx, data, entry, valKey)
					if err != nil {
						return nil, err
					}
					if present {
						sum += val
						any = true
					}
				}
				if any {
					row[m] = coerce(sum, isFloat)
				}
			}
		}
		out = append(out, row)
	}

	return &Result{Status: "OK", Data: out}, nil
}

func readMeasure(ctx context.Context, data store.Store, entry analytics.MappingEntry, key string) (float64, bool, error) {
	if measure.Type(entry.Type) == measure.TypeUnique {
		n, err := measure.Cardinality(ctx, data, key)
		if err != nil {
			return 0, false, err
		}
		return float64(n), n != 0, nil
	}
	v, ok, err := data.Get(ctx, key)
	if err != nil || !ok || v == "" {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

func coerce(v float64, isFloat bool) any {
	if isFloat {
		return v
	}
	return int64(v)
}

func getRange(dims []string, dRange map[string][]string) []dimValue {
	sorted := append([]string(nil), dims...)
	sort.Strings(sorted)
	out := make([]dimValue, 0, len(sorted))
	for _, d := range sorted {
		out = append(out, dimValue{name: d, values: dRange[d]})
	}
	return out
}

type keyTuple struct {
	dim   string
	value string
}

// combinatorialKeys enumerates the Cartesian product of the given
// dimensions' sorted value sets, dimensions outermost in sorted name
// order, matching spec.md §4.9's defined enumeration order.
func combinatorialKeys(dims []dimValue) [][]keyTuple {
	if len(dims) == 0 {
		return [][]keyTuple{{}}
	}
	head, rest := dims[0], dims[1:]
	restKeys := combinatorialKeys(rest)

	var out [][]keyTuple
	for _, v := range head.values {
		for _, r := range restKeys {
			tuple := append([]keyTuple{{dim: head.name, value: v}}, r...)
			out = append(out, tuple)
		}
	}
	return out
}

func tupleToKeyParts(tuple []keyTuple) []string {
	parts := make([]string, 0, len(tuple)*2)
	for _, t := range tuple {
		parts = append(parts, t.dim, t.value)
	}
	return parts
}
