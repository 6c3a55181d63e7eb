package values

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// ValueType represents the type of a PHP value
type ValueType byte

const (
	TypeNull ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeArray
	TypeObject
	TypeResource
	TypeReference
	TypeCallable
)

// Value represents a PHP runtime value. Every Value starts with one owned
// reference belonging to its creator; AddRef/Release transfer and drop
// ownership the same way the engine's zval refcounting does.
type Value struct {
	Type ValueType
	Data interface{}

	refs int32
}

// Array is the PHP array payload.
type Array struct {
	Elements  map[interface{}]*Value // key -> value
	NextIndex int64                  // for auto-incrementing indices
	IsIndexed bool                   // optimization hint
}

// Object is the PHP object payload. Handle identifies the entry in the
// object store for objects that registered destroy/clone callbacks.
type Object struct {
	ClassName  string
	Handle     uint32
	Properties map[string]*Value
}

// Reference wraps a value for by-reference bindings.
type Reference struct {
	Target *Value
}

// Closure is the payload of a callable value.
type Closure struct {
	Function  interface{}       // pointer to a compiled or builtin function
	BoundVars map[string]*Value // variables captured via 'use'
	Name      string
}

// liveValues counts values that still hold at least one owned reference.
// Tests use it to prove full lifecycles neither leak nor double-release.
var liveValues int64

// LiveCount returns the number of values currently holding owned references.
func LiveCount() int64 {
	return atomic.LoadInt64(&liveValues)
}

func newValue(t ValueType, data interface{}) *Value {
	atomic.AddInt64(&liveValues, 1)
	return &Value{Type: t, Data: data, refs: 1}
}

func NewNull() *Value { return newValue(TypeNull, nil) }

func NewBool(b bool) *Value { return newValue(TypeBool, b) }

func NewInt(i int64) *Value { return newValue(TypeInt, i) }

func NewFloat(f float64) *Value { return newValue(TypeFloat, f) }

func NewString(s string) *Value { return newValue(TypeString, s) }

func NewArray() *Value {
	return newValue(TypeArray, &Array{
		Elements:  make(map[interface{}]*Value),
		NextIndex: 0,
		IsIndexed: true,
	})
}

func NewObject(className string) *Value {
	return newValue(TypeObject, &Object{
		ClassName:  className,
		Properties: make(map[string]*Value),
	})
}

func NewResource(data interface{}) *Value {
	return newValue(TypeResource, data)
}

func NewReference(target *Value) *Value {
	return newValue(TypeReference, &Reference{Target: target})
}

func NewClosure(function interface{}, boundVars map[string]*Value, name string) *Value {
	if boundVars == nil {
		boundVars = make(map[string]*Value)
	}
	return newValue(TypeCallable, &Closure{Function: function, BoundVars: boundVars, Name: name})
}

// AddRef takes an additional owned reference on v.
func (v *Value) AddRef() *Value {
	if v == nil {
		return nil
	}
	atomic.AddInt32(&v.refs, 1)
	return v
}

// Release drops one owned reference. When the last reference is dropped the
// elements of an array and the bound variables of a closure are released as
// well; object properties and reference targets are not. Releasing a dead
// value is a bug in the caller and panics.
func (v *Value) Release() {
	if v == nil {
		return
	}
	n := atomic.AddInt32(&v.refs, -1)
	if n < 0 {
		panic(fmt.Sprintf("values: release of dead %s value", typeName(v.Type)))
	}
	if n > 0 {
		return
	}
	atomic.AddInt64(&liveValues, -1)
	switch v.Type {
	case TypeArray:
		arr := v.Data.(*Array)
		for _, el := range arr.Elements {
			el.Release()
		}
		arr.Elements = nil
	case TypeCallable:
		cl := v.Data.(*Closure)
		for _, bv := range cl.BoundVars {
			bv.Release()
		}
		cl.BoundVars = nil
	}
}

// RefCount returns the current number of owned references.
func (v *Value) RefCount() int32 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt32(&v.refs)
}

// Type predicates

func (v *Value) IsNull() bool      { return v == nil || v.Type == TypeNull }
func (v *Value) IsBool() bool      { return v != nil && v.Type == TypeBool }
func (v *Value) IsInt() bool       { return v != nil && v.Type == TypeInt }
func (v *Value) IsFloat() bool     { return v != nil && v.Type == TypeFloat }
func (v *Value) IsString() bool    { return v != nil && v.Type == TypeString }
func (v *Value) IsArray() bool     { return v != nil && v.Type == TypeArray }
func (v *Value) IsObject() bool    { return v != nil && v.Type == TypeObject }
func (v *Value) IsResource() bool  { return v != nil && v.Type == TypeResource }
func (v *Value) IsReference() bool { return v != nil && v.Type == TypeReference }
func (v *Value) IsCallable() bool  { return v != nil && v.Type == TypeCallable }

// IsNumeric reports whether the value is an int or float.
func (v *Value) IsNumeric() bool {
	return v != nil && (v.Type == TypeInt || v.Type == TypeFloat)
}

// Deref follows reference wrappers down to the referenced value.
func (v *Value) Deref() *Value {
	for v != nil && v.Type == TypeReference {
		v = v.Data.(*Reference).Target
	}
	return v
}

// Conversions

func (v *Value) ToBool() bool {
	if v == nil {
		return false
	}
	switch v.Type {
	case TypeNull:
		return false
	case TypeBool:
		return v.Data.(bool)
	case TypeInt:
		return v.Data.(int64) != 0
	case TypeFloat:
		return v.Data.(float64) != 0
	case TypeString:
		s := v.Data.(string)
		return s != "" && s != "0"
	case TypeArray:
		return len(v.Data.(*Array).Elements) != 0
	case TypeReference:
		return v.Deref().ToBool()
	}
	return true
}

func (v *Value) ToInt() int64 {
	if v == nil {
		return 0
	}
	switch v.Type {
	case TypeBool:
		if v.Data.(bool) {
			return 1
		}
		return 0
	case TypeInt:
		return v.Data.(int64)
	case TypeFloat:
		return int64(v.Data.(float64))
	case TypeString:
		n, _ := strconv.ParseInt(leadingNumeric(v.Data.(string)), 10, 64)
		return n
	case TypeReference:
		return v.Deref().ToInt()
	}
	return 0
}

func (v *Value) ToFloat() float64 {
	if v == nil {
		return 0
	}
	switch v.Type {
	case TypeBool:
		if v.Data.(bool) {
			return 1
		}
		return 0
	case TypeInt:
		return float64(v.Data.(int64))
	case TypeFloat:
		return v.Data.(float64)
	case TypeString:
		f, _ := strconv.ParseFloat(leadingNumeric(v.Data.(string)), 64)
		return f
	case TypeReference:
		return v.Deref().ToFloat()
	}
	return 0
}

func (v *Value) ToString() string {
	if v == nil {
		return ""
	}
	switch v.Type {
	case TypeNull:
		return ""
	case TypeBool:
		if v.Data.(bool) {
			return "1"
		}
		return ""
	case TypeInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Data.(float64), 'G', -1, 64)
	case TypeString:
		return v.Data.(string)
	case TypeArray:
		return "Array"
	case TypeObject:
		return "Object"
	case TypeResource:
		return "Resource"
	case TypeReference:
		return v.Deref().ToString()
	}
	return ""
}

func leadingNumeric(s string) string {
	s = strings.TrimLeft(s, " \t\n\r")
	end := 0
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	return s[:end]
}

// Copy produces a fresh value with one owned reference. Arrays copy their
// table and take a reference on each element; objects and resources keep
// payload identity, which matches the engine's handle semantics.
func (v *Value) Copy() *Value {
	if v == nil {
		return NewNull()
	}
	switch v.Type {
	case TypeArray:
		src := v.Data.(*Array)
		dst := &Array{
			Elements:  make(map[interface{}]*Value, len(src.Elements)),
			NextIndex: src.NextIndex,
			IsIndexed: src.IsIndexed,
		}
		for k, el := range src.Elements {
			dst.Elements[k] = el.AddRef()
		}
		return newValue(TypeArray, dst)
	default:
		return newValue(v.Type, v.Data)
	}
}

// Array accessors

func normalizeKey(key *Value) interface{} {
	switch key.Type {
	case TypeInt:
		return key.Data.(int64)
	case TypeString:
		s := key.Data.(string)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
			return n
		}
		return s
	case TypeBool:
		if key.Data.(bool) {
			return int64(1)
		}
		return int64(0)
	case TypeNull:
		return ""
	case TypeFloat:
		return int64(key.Data.(float64))
	}
	return key.ToString()
}

// ArrayGet returns the element stored under key, or nil.
func (v *Value) ArrayGet(key *Value) *Value {
	if !v.IsArray() {
		return nil
	}
	return v.Data.(*Array).Elements[normalizeKey(key)]
}

// ArraySet stores value under key, taking ownership of value and releasing
// any previous element. A nil key appends at the next index.
func (v *Value) ArraySet(key *Value, value *Value) {
	if !v.IsArray() {
		return
	}
	arr := v.Data.(*Array)
	var k interface{}
	if key == nil {
		k = arr.NextIndex
		arr.NextIndex++
	} else {
		k = normalizeKey(key)
		if ik, ok := k.(int64); ok {
			if ik >= arr.NextIndex {
				arr.NextIndex = ik + 1
			}
		} else {
			arr.IsIndexed = false
		}
	}
	if old, ok := arr.Elements[k]; ok {
		old.Release()
	}
	arr.Elements[k] = value
}

// ArrayCount returns the number of elements.
func (v *Value) ArrayCount() int {
	if !v.IsArray() {
		return 0
	}
	return len(v.Data.(*Array).Elements)
}

// Object accessors

// ObjectClassName returns the class name of an object value.
func (v *Value) ObjectClassName() string {
	if !v.IsObject() {
		return ""
	}
	return v.Data.(*Object).ClassName
}

// ObjectGet returns the named property, or nil.
func (v *Value) ObjectGet(property string) *Value {
	if !v.IsObject() {
		return nil
	}
	return v.Data.(*Object).Properties[property]
}

// ObjectSet stores a property, taking ownership of value.
func (v *Value) ObjectSet(property string, value *Value) {
	if !v.IsObject() {
		return
	}
	obj := v.Data.(*Object)
	if old, ok := obj.Properties[property]; ok {
		old.Release()
	}
	obj.Properties[property] = value
}

// ClosureGet returns the closure payload of a callable value.
func (v *Value) ClosureGet() *Closure {
	if !v.IsCallable() {
		return nil
	}
	return v.Data.(*Closure)
}

// Equal implements loose (==) comparison for the types the VM handles.
func (v *Value) Equal(other *Value) bool {
	a, b := v.Deref(), other.Deref()
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a.IsNull() || b.IsNull() {
		return !a.ToBool() && !b.ToBool()
	}
	switch {
	case a.Type == b.Type:
		switch a.Type {
		case TypeInt, TypeBool, TypeFloat, TypeString:
			return a.Data == b.Data
		case TypeArray:
			return a.arrayEqual(b)
		case TypeObject, TypeResource:
			return a.Data == b.Data
		}
		return false
	case a.IsNumeric() && b.IsNumeric():
		return a.ToFloat() == b.ToFloat()
	case a.Type == TypeBool || b.Type == TypeBool:
		return a.ToBool() == b.ToBool()
	case (a.IsString() && b.IsNumeric()) || (a.IsNumeric() && b.IsString()):
		return a.ToFloat() == b.ToFloat()
	}
	return false
}

func (v *Value) arrayEqual(other *Value) bool {
	a := v.Data.(*Array)
	b := other.Data.(*Array)
	if len(a.Elements) != len(b.Elements) {
		return false
	}
	for k, el := range a.Elements {
		bel, ok := b.Elements[k]
		if !ok || !el.Equal(bel) {
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or 1 for the < / == / > relation.
func (v *Value) Compare(other *Value) int {
	a, b := v.Deref(), other.Deref()
	if a.IsString() && b.IsString() {
		return strings.Compare(a.Data.(string), b.Data.(string))
	}
	af, bf := a.ToFloat(), b.ToFloat()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

// String renders a debugging representation.
func (v *Value) String() string {
	if v == nil {
		return "NULL"
	}
	switch v.Type {
	case TypeNull:
		return "NULL"
	case TypeBool:
		if v.Data.(bool) {
			return "bool(true)"
		}
		return "bool(false)"
	case TypeInt:
		return fmt.Sprintf("int(%d)", v.Data.(int64))
	case TypeFloat:
		return fmt.Sprintf("float(%v)", v.Data.(float64))
	case TypeString:
		return fmt.Sprintf("string(%q)", v.Data.(string))
	case TypeArray:
		arr := v.Data.(*Array)
		keys := make([]string, 0, len(arr.Elements))
		for k := range arr.Elements {
			keys = append(keys, fmt.Sprintf("%v", k))
		}
		sort.Strings(keys)
		return fmt.Sprintf("array(%d){%s}", len(arr.Elements), strings.Join(keys, ","))
	case TypeObject:
		return "object(" + v.Data.(*Object).ClassName + ")"
	case TypeResource:
		return "resource"
	case TypeReference:
		return "&" + v.Deref().String()
	case TypeCallable:
		return "callable(" + v.Data.(*Closure).Name + ")"
	}
	return "unknown"
}

func typeName(t ValueType) string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeResource:
		return "resource"
	case TypeReference:
		return "reference"
	case TypeCallable:
		return "callable"
	}
	return "unknown"
}

// TypeName returns the user-visible name of the value's type.
func (v *Value) TypeName() string {
	if v == nil {
		return "null"
	}
	return typeName(v.Type)
}
