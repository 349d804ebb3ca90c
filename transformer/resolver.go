package transformer

import (
	"fmt"
	"slices"
)

// SlotName names a stage of a resolver pipeline.
type SlotName string

// Resolver slots.
const (
	SlotInit         SlotName = "init"
	SlotPreAuth      SlotName = "preAuth"
	SlotAuth         SlotName = "auth"
	SlotPostAuth     SlotName = "postAuth"
	SlotPreDataLoad  SlotName = "preDataLoad"
	SlotPreUpdate    SlotName = "preUpdate"
	SlotPreSubscribe SlotName = "preSubscribe"
	SlotPostDataLoad SlotName = "postDataLoad"
	SlotPostUpdate   SlotName = "postUpdate"
	SlotFinish       SlotName = "finish"
)

// Slots is the execution order shared by every resolver. The data function
// runs between SlotPreSubscribe and SlotPostDataLoad.
var Slots = []SlotName{
	SlotInit,
	SlotPreAuth,
	SlotAuth,
	SlotPostAuth,
	SlotPreDataLoad,
	SlotPreUpdate,
	SlotPreSubscribe,
	SlotPostDataLoad,
	SlotPostUpdate,
	SlotFinish,
}

// dataStage is the position of the data function within Slots.
const dataStage = 7

// ParseSlotName returns the slot named s.
func ParseSlotName(s string) (SlotName, bool) {
	for _, slot := range Slots {
		if string(slot) == s {
			return slot, true
		}
	}
	return "", false
}

// NoopTemplate is used for the missing half of a function.
const NoopTemplate = "$util.toJson({})"

// MappingTemplate is a rendered request or response template.
type MappingTemplate struct {
	Content string
	// Source is the override file the content came from, if any.
	Source string
}

// InlineTemplate returns a template holding content.
func InlineTemplate(content string) *MappingTemplate {
	return &MappingTemplate{Content: content}
}

// Function is one request/response pair of a pipeline.
type Function struct {
	Request    *MappingTemplate
	Response   *MappingTemplate
	DataSource string
}

func (f *Function) equal(o *Function) bool {
	return f.DataSource == o.DataSource &&
		f.Request.Content == o.Request.Content &&
		f.Response.Content == o.Response.Content
}

// Operation classifies what a resolver does, for plugins that decorate
// resolvers created by others.
type Operation string

// Resolver operations.
const (
	OperationGet          Operation = "get"
	OperationList         Operation = "list"
	OperationSync         Operation = "sync"
	OperationQuery        Operation = "query"
	OperationCreate       Operation = "create"
	OperationUpdate       Operation = "update"
	OperationDelete       Operation = "delete"
	OperationSubscription Operation = "subscription"
	OperationField        Operation = "field"
	OperationCustom       Operation = "custom"
)

// IsMutation reports whether op writes data.
func (op Operation) IsMutation() bool {
	return op == OperationCreate || op == OperationUpdate || op == OperationDelete
}

// Resolver is the pipeline bound to one (type, field).
type Resolver struct {
	TypeName   string
	FieldName  string
	ResourceID string
	// Model is the @model type the resolver reads or writes, if any.
	Model     string
	Operation Operation
	// Sync enables conflict detection on the data function.
	Sync *SyncConfig

	data       *Function
	slots      map[SlotName][]*Function
	scope      string
	overridden []string
	stash      []stashValue
}

type stashValue struct {
	key   string
	value string
}

// NewResolver returns a resolver without a data function.
func NewResolver(typeName, fieldName string) *Resolver {
	return &Resolver{
		TypeName:   typeName,
		FieldName:  fieldName,
		ResourceID: ResolverResourceID(typeName, fieldName),
		slots:      make(map[SlotName][]*Function),
	}
}

// Key returns Type.field.
func (r *Resolver) Key() string { return r.TypeName + "." + r.FieldName }

func fillFunction(req, res *MappingTemplate, dataSource string) *Function {
	if req == nil {
		req = InlineTemplate(NoopTemplate)
	}
	if res == nil {
		res = InlineTemplate(NoopTemplate)
	}
	if dataSource == "" {
		dataSource = NoneDataSourceName
	}
	return &Function{Request: req, Response: res, DataSource: dataSource}
}

// SetData sets the data function. A missing template half becomes a no-op.
func (r *Resolver) SetData(dataSource string, req, res *MappingTemplate) {
	r.data = fillFunction(req, res, dataSource)
}

// Data returns the data function, or nil.
func (r *Resolver) Data() *Function { return r.data }

// AddToSlot appends a function to slot. dataSource defaults to the NONE
// datasource. Appending a function equal to one already in the slot is a
// no-op, so plugins may decorate the same resolver more than once.
func (r *Resolver) AddToSlot(slot SlotName, req, res *MappingTemplate, dataSource ...string) error {
	if _, ok := ParseSlotName(string(slot)); !ok {
		return NewResourceConsistencyError("slot", string(slot), "unknown slot on resolver "+r.Key())
	}
	ds := ""
	if len(dataSource) > 0 {
		ds = dataSource[0]
	}
	fn := fillFunction(req, res, ds)
	if slices.ContainsFunc(r.slots[slot], fn.equal) {
		return nil
	}
	r.slots[slot] = append(r.slots[slot], fn)
	return nil
}

// UpdateSlot splices user content into slot at order (0-based). The
// halves that are nil keep the generated content. An order past the end
// of the slot appends a new function.
func (r *Resolver) UpdateSlot(slot SlotName, order int, req, res *MappingTemplate) error {
	if _, ok := ParseSlotName(string(slot)); !ok {
		return NewResourceConsistencyError("slot", string(slot), "unknown slot on resolver "+r.Key())
	}
	if order < 0 {
		return fmt.Errorf("slot %s on %s: negative order %d", slot, r.Key(), order)
	}
	fns := r.slots[slot]
	if order < len(fns) {
		fn := *fns[order]
		if req != nil {
			fn.Request = req
		}
		if res != nil {
			fn.Response = res
		}
		fns[order] = &fn
	} else {
		r.slots[slot] = append(fns, fillFunction(req, res, ""))
	}
	r.overridden = append(r.overridden, fmt.Sprintf("%s.%s.%d", r.Key(), slot, order))
	return nil
}

// Slot returns the functions of slot in execution order.
func (r *Resolver) Slot(slot SlotName) []*Function {
	return slices.Clone(r.slots[slot])
}

// SetScope places the resolver and its functions in the named stack.
func (r *Resolver) SetScope(stack string) { r.scope = stack }

// Scope returns the stack name set with SetScope.
func (r *Resolver) Scope() string { return r.scope }

// SetStash sets a value, given as template text, that the resolver puts
// on the stash before the first function runs. Setting a key again
// replaces its value.
func (r *Resolver) SetStash(key, value string) {
	for i := range r.stash {
		if r.stash[i].key == key {
			r.stash[i].value = value
			return
		}
	}
	r.stash = append(r.stash, stashValue{key: key, value: value})
}

// Overridden returns the user overrides applied to the resolver.
func (r *Resolver) Overridden() []string { return slices.Clone(r.overridden) }

// PipelineFunction is a Function positioned in the pipeline.
type PipelineFunction struct {
	*Function
	// Slot is empty for the data function.
	Slot SlotName
	// Index is the position within the slot, as used by override file
	// names.
	Index int
}

// Pipeline returns every function in execution order.
func (r *Resolver) Pipeline() []PipelineFunction {
	var out []PipelineFunction
	for i, slot := range Slots {
		if i == dataStage && r.data != nil {
			out = append(out, PipelineFunction{Function: r.data})
		}
		for j, fn := range r.slots[slot] {
			out = append(out, PipelineFunction{Function: fn, Slot: slot, Index: j})
		}
	}
	return out
}

// Resolvers is the registry of resolvers keyed by (type, field).
type Resolvers struct {
	byKey map[string]*Resolver
	order []string
}

// NewResolvers returns an empty registry.
func NewResolvers() *Resolvers {
	return &Resolvers{byKey: make(map[string]*Resolver)}
}

func resolverKey(typeName, fieldName string) string { return typeName + "." + fieldName }

// Get returns the resolver of typeName.fieldName.
func (rs *Resolvers) Get(typeName, fieldName string) (*Resolver, bool) {
	r, ok := rs.byKey[resolverKey(typeName, fieldName)]
	return r, ok
}

// Has reports whether typeName.fieldName has a resolver.
func (rs *Resolvers) Has(typeName, fieldName string) bool {
	_, ok := rs.byKey[resolverKey(typeName, fieldName)]
	return ok
}

// Add registers r. A second resolver for the same field is rejected.
func (rs *Resolvers) Add(r *Resolver) error {
	key := r.Key()
	if existing, ok := rs.byKey[key]; ok && existing != r {
		return NewResourceConsistencyError("resolver", key, "already registered")
	}
	if _, ok := rs.byKey[key]; !ok {
		rs.byKey[key] = r
		rs.order = append(rs.order, key)
	}
	return nil
}

// GetOrCreate returns the resolver of typeName.fieldName, creating it on
// first use.
func (rs *Resolvers) GetOrCreate(typeName, fieldName string) *Resolver {
	if r, ok := rs.Get(typeName, fieldName); ok {
		return r
	}
	r := NewResolver(typeName, fieldName)
	rs.byKey[r.Key()] = r
	rs.order = append(rs.order, r.Key())
	return r
}

// GenerateQueryResolver returns the resolver of typeName.fieldName with the
// data function set, unless the resolver already had one.
func (rs *Resolvers) GenerateQueryResolver(typeName, fieldName, dataSource string, req, res *MappingTemplate) *Resolver {
	return rs.generate(typeName, fieldName, dataSource, req, res)
}

// GenerateMutationResolver is GenerateQueryResolver for mutation fields.
func (rs *Resolvers) GenerateMutationResolver(typeName, fieldName, dataSource string, req, res *MappingTemplate) *Resolver {
	return rs.generate(typeName, fieldName, dataSource, req, res)
}

// GenerateSubscriptionResolver is GenerateQueryResolver for subscription fields.
func (rs *Resolvers) GenerateSubscriptionResolver(typeName, fieldName string, req, res *MappingTemplate) *Resolver {
	return rs.generate(typeName, fieldName, NoneDataSourceName, req, res)
}

func (rs *Resolvers) generate(typeName, fieldName, dataSource string, req, res *MappingTemplate) *Resolver {
	r := rs.GetOrCreate(typeName, fieldName)
	if r.data == nil {
		r.SetData(dataSource, req, res)
	}
	return r
}

// ForModel returns the resolver performing op on the model type.
func (rs *Resolvers) ForModel(model string, op Operation) (*Resolver, bool) {
	for _, key := range rs.order {
		if r := rs.byKey[key]; r.Model == model && r.Operation == op {
			return r, true
		}
	}
	return nil, false
}

// All returns the resolvers in registration order.
func (rs *Resolvers) All() []*Resolver {
	out := make([]*Resolver, 0, len(rs.order))
	for _, key := range rs.order {
		out = append(out, rs.byKey[key])
	}
	return out
}
