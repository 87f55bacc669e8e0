package core

import (
	"fmt"
	"sort"
)

// OrderKind discriminates the order variants. Each kind has its own number prefix,
// status table, and product filter.
type OrderKind string

const (
	KindCommon      OrderKind = "common"
	KindLaboratory  OrderKind = "laboratory"
	KindInspection  OrderKind = "inspection"
	KindCalibration OrderKind = "calibration"
	KindConsultancy OrderKind = "consultancy"
	KindResearch    OrderKind = "research"
	KindTraining    OrderKind = "training"
	KindMisc        OrderKind = "misc"
)

// KindHandler supplies the per-kind behaviour of an order.
type KindHandler interface {
	Kind() OrderKind
	// Prefix is the order number prefix, e.g. LAB for LAB-2026-00001.
	Prefix() string
	Machine() StatusMachine
	// AcceptProduct vetoes catalog products that do not belong on this kind of order.
	AcceptProduct(p ProductPrice) error
}

type kindHandler struct {
	kind     OrderKind
	prefix   string
	machine  StatusMachine
	category string
}

// NewKindHandler builds a handler. steps is 3 or 5; category restricts products to one
// catalog category, or accepts everything when empty.
func NewKindHandler(kind OrderKind, prefix string, steps int, category string) (KindHandler, error) {
	if prefix == "" {
		return nil, fmt.Errorf("order kind %s: prefix is required", kind)
	}
	h := &kindHandler{kind: kind, prefix: prefix, category: category}
	switch steps {
	case 3:
		h.machine = ThreeStepOrderMachine
	case 5:
		h.machine = FiveStepOrderMachine
	default:
		return nil, fmt.Errorf("order kind %s: steps must be 3 or 5, got %d", kind, steps)
	}
	return h, nil
}

func (h *kindHandler) Kind() OrderKind        { return h.kind }
func (h *kindHandler) Prefix() string         { return h.prefix }
func (h *kindHandler) Machine() StatusMachine { return h.machine }

func (h *kindHandler) AcceptProduct(p ProductPrice) error {
	if h.category == "" || p.Category == h.category {
		return nil
	}
	return precondition("product %s (%s) cannot be added to a %s order", p.Name, p.Category, h.kind)
}

// KindRegistry maps order kinds to their handlers. Built once at startup.
type KindRegistry struct {
	handlers map[OrderKind]KindHandler
}

func NewKindRegistry(handlers ...KindHandler) (*KindRegistry, error) {
	r := &KindRegistry{handlers: make(map[OrderKind]KindHandler, len(handlers))}
	for _, h := range handlers {
		if _, dup := r.handlers[h.Kind()]; dup {
			return nil, fmt.Errorf("order kind %s registered twice", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

// DefaultKindRegistry registers the built-in kinds. Laboratory, inspection and
// calibration orders run the five-step lifecycle.
func DefaultKindRegistry() *KindRegistry {
	defs := []struct {
		kind     OrderKind
		prefix   string
		steps    int
		category string
	}{
		{KindCommon, "SPJ", 3, ""},
		{KindLaboratory, "LAB", 5, "laboratory"},
		{KindInspection, "LIT", 5, "inspection"},
		{KindCalibration, "KAL", 5, "calibration"},
		{KindConsultancy, "KSL", 3, "consultancy"},
		{KindResearch, "LIB", 3, "research"},
		{KindTraining, "LAT", 3, "training"},
		{KindMisc, "LNY", 3, ""},
	}
	handlers := make([]KindHandler, 0, len(defs))
	for _, d := range defs {
		h, err := NewKindHandler(d.kind, d.prefix, d.steps, d.category)
		if err != nil {
			panic(err)
		}
		handlers = append(handlers, h)
	}
	r, err := NewKindRegistry(handlers...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the handler for kind. Unknown kinds are a range violation on "kind".
func (r *KindRegistry) Lookup(kind OrderKind) (KindHandler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, outOfRange("kind", fmt.Sprintf("unknown order kind %q", kind))
	}
	return h, nil
}

// Kinds returns the registered kinds sorted by name.
func (r *KindRegistry) Kinds() []OrderKind {
	out := make([]OrderKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
