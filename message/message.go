// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package message initializes configuration structs from generic decoded
// objects, such as the result of decoding JSON, TOML or YAML into an
// interface{}.
//
// A Message is typically implemented by a struct pointer:
//
//   type Options struct {
//     Name    string        `json:"name" required:"true"`
//     Mode    string        `json:"mode" choices:"fast,slow" default:"fast"`
//     Retries int           `json:"retries" default:"5"`
//     Codes   []int         `json:"codes" default:"429,503"`
//     Start   db.Date       `json:"start"` // any encoding.TextUnmarshaler
//     Ignored int           `json:"-"`
//   }
//
//   func (o *Options) InitMessage(js interface{}) error {
//     return message.Init(o, js)
//   }
//
// Values decoded by different formats are first brought to the JSON data model
// by Normalize: all numbers become float64, maps become map[string]interface{}
// and timestamps become strings.
package message

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/stockparfait/errors"
)

// Message is the interface of the configuration structs.
type Message interface {
	// InitMessage converts a generic decoded object into the specific
	// message. It checks for required fields, sets the default values of
	// optional fields and rejects unrecognized fields.
	InitMessage(js interface{}) error
}

var (
	rMessage         = reflect.TypeOf((*Message)(nil)).Elem()
	rTextUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// Normalize converts a value decoded from TOML or YAML into the data model of
// encoding/json, recursively.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x
	case map[string]interface{}:
		res := make(map[string]interface{}, len(x))
		for k, e := range x {
			res[k] = Normalize(e)
		}
		return res
	case map[interface{}]interface{}:
		res := make(map[string]interface{}, len(x))
		for k, e := range x {
			res[fmt.Sprint(k)] = Normalize(e)
		}
		return res
	case []interface{}:
		res := make([]interface{}, len(x))
		for i, e := range x {
			res[i] = Normalize(e)
		}
		return res
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

func convertToMessage(jv interface{}, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	if t.Kind() != reflect.Ptr {
		return Nil, errors.Reason(
			"type %s implements Message but is not a pointer", t.Name())
	}
	ptr := reflect.New(t.Elem())
	if err := ptr.Interface().(Message).InitMessage(jv); err != nil {
		return Nil, errors.Annotate(err, "%s.InitMessage() failed", t.Elem().Name())
	}
	return ptr, nil
}

// textValue renders a scalar as the text for encoding.TextUnmarshaler.
func textValue(jv interface{}) (string, error) {
	switch x := jv.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", errors.Reason("not a scalar value: %v", jv)
}

func unmarshalText(s string, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return reflect.Value{}, errors.Annotate(err, "invalid %s value: '%s'", t.Name(), s)
	}
	return ptr.Elem(), nil
}

func toInt(jv interface{}, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	f, ok := jv.(float64)
	if !ok {
		return Nil, errors.Reason("not a numeric type: %v", jv)
	}
	if f != math.Trunc(f) {
		return Nil, errors.Reason("not an integer: %v", f)
	}
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if f < 0 {
			return Nil, errors.Reason("not a non-negative integer: %v", f)
		}
		if v.OverflowUint(uint64(f)) {
			return Nil, errors.Reason("value %v overflows %s", f, t.Name())
		}
		v.SetUint(uint64(f))
	default:
		if v.OverflowInt(int64(f)) {
			return Nil, errors.Reason("value %v overflows %s", f, t.Name())
		}
		v.SetInt(int64(f))
	}
	return v, nil
}

// convertToType recursively converts a normalized value to the target type.
// If jv == nil, the result is the zero value, or the default Message value.
func convertToType(jv interface{}, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	if t.Implements(rMessage) {
		if jv == nil {
			return reflect.Zero(t), nil
		}
		return convertToMessage(jv, t)
	}
	if ptrTp := reflect.PtrTo(t); ptrTp.Implements(rMessage) {
		if jv == nil {
			jv = make(map[string]interface{}) // force default values for t
		}
		ptr, err := convertToMessage(jv, ptrTp)
		if err != nil {
			return Nil, err
		}
		return reflect.Indirect(ptr), nil
	}
	if jv == nil {
		return reflect.Zero(t), nil
	}
	if t.Kind() != reflect.Ptr && reflect.PtrTo(t).Implements(rTextUnmarshaler) {
		s, err := textValue(jv)
		if err != nil {
			return Nil, err
		}
		return unmarshalText(s, t)
	}
	switch t.Kind() {
	case reflect.Ptr:
		v, err := convertToType(jv, t.Elem())
		if err != nil {
			return Nil, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(v)
		return ptr, nil

	case reflect.Bool:
		b, ok := jv.(bool)
		if !ok {
			return Nil, errors.Reason("not a bool type: %v", jv)
		}
		return reflect.ValueOf(b).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return toInt(jv, t)

	case reflect.Float32, reflect.Float64:
		f, ok := jv.(float64)
		if !ok {
			return Nil, errors.Reason("not a numeric type: %v", jv)
		}
		return reflect.ValueOf(f).Convert(t), nil

	case reflect.String:
		s, ok := jv.(string)
		if !ok {
			return Nil, errors.Reason("not a string type: %v", jv)
		}
		return reflect.ValueOf(s).Convert(t), nil

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return Nil, errors.Reason("map[%s] is not supported", t.Key().Kind())
		}
		m, ok := jv.(map[string]interface{})
		if !ok {
			return Nil, errors.Reason("not a map[string] type: %v", jv)
		}
		res := reflect.MakeMap(t)
		for k, e := range m {
			el, err := convertToType(e, t.Elem())
			if err != nil {
				return Nil, errors.Annotate(err, "in key %s", k)
			}
			res.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), el)
		}
		return res, nil

	case reflect.Slice:
		s, ok := jv.([]interface{})
		if !ok {
			return Nil, errors.Reason("not a slice type: %v", jv)
		}
		res := reflect.MakeSlice(t, len(s), len(s))
		for i, e := range s {
			el, err := convertToType(e, t.Elem())
			if err != nil {
				return Nil, errors.Annotate(err, "in element %d", i)
			}
			res.Index(i).Set(el)
		}
		return res, nil
	}
	return Nil, errors.Reason("unsupported type: %s", t)
}

// fromString converts the value of a `default` tag to the type t. Slices are
// comma-separated lists.
func fromString(s string, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	if t.Kind() != reflect.Ptr && reflect.PtrTo(t).Implements(rTextUnmarshaler) {
		return unmarshalText(s, t)
	}
	switch t.Kind() {
	case reflect.Ptr:
		v, err := fromString(s, t.Elem())
		if err != nil {
			return Nil, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(v)
		return ptr, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid bool value: %s", s)
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid integer value: %s", s)
		}
		return toInt(f, t)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid float value: %s", s)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.String:
		return reflect.ValueOf(s).Convert(t), nil
	case reflect.Slice:
		var parts []string
		if s != "" {
			parts = strings.Split(s, ",")
		}
		res := reflect.MakeSlice(t, len(parts), len(parts))
		for i, p := range parts {
			el, err := fromString(strings.TrimSpace(p), t.Elem())
			if err != nil {
				return Nil, err
			}
			res.Index(i).Set(el)
		}
		return res, nil
	}
	return Nil, errors.Reason("type %s is not supported", t)
}

// checkSet sets the value fv of a struct field f to the value v and checks that
// the value is valid.
func checkSet(f reflect.StructField, fv reflect.Value, v reflect.Value) error {
	if choices, ok := f.Tag.Lookup("choices"); ok {
		if f.Type.Kind() != reflect.String {
			return errors.Reason(
				"choices tag applied to a non-string field: %s", f.Name)
		}
		if s := v.String(); !StringIn(s, strings.Split(choices, ",")...) {
			return errors.Reason(
				"value for %s is not in its choice list: '%s'", f.Name, s)
		}
	}
	fv.Set(v)
	return nil
}

// fieldName is the key of the struct field in the decoded object, or "" if
// the field is not a part of the message.
func fieldName(f reflect.StructField) string {
	firstChar, _ := utf8.DecodeRuneInString(f.Name)
	if !unicode.IsUpper(firstChar) {
		return ""
	}
	name := f.Name
	if tag := f.Tag.Get("json"); tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] == "-" {
			return ""
		}
		if parts[0] != "" {
			name = parts[0]
		}
	}
	return name
}

// Init is a generic method to be used by most InitMessage implementations. It
// expects m to be a struct pointer, and js to be a map[string]interface{}.
//
// Recognized struct tags:
// `json:"field_name" required:"true" default:"value" choices:"one,two,three"`
//
// The `json:` tag is compatible with the encoding/json package: a missing tag
// is equivalent to `json:"FieldName"`, and qualifiers like ",omitempty" are
// ignored. The "choices" tag is supported only for string fields.
//
// Unrecognized keys in js are reported as an error.
func Init(m Message, js interface{}) error {
	rt := reflect.TypeOf(m)
	if !(rt.Kind() == reflect.Ptr && rt.Elem().Kind() == reflect.Struct) {
		return errors.Reason(
			"expected Message instance to be a struct pointer, but got %s", rt)
	}
	if js == nil {
		return errors.Reason("object is nil")
	}
	jsMap, ok := Normalize(js).(map[string]interface{})
	if !ok {
		return errors.Reason("object is not a map: %v", js)
	}

	rt = rt.Elem()
	rv := reflect.ValueOf(m).Elem()
	found := make(map[string]struct{})
	var missingRequired []string
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		name := fieldName(f)
		if name == "" {
			continue
		}
		fv := rv.Field(i)
		if jv, ok := jsMap[name]; ok {
			found[name] = struct{}{}
			v, err := convertToType(jv, f.Type)
			if err != nil {
				return errors.Annotate(err, "error assigning field %s", name)
			}
			if err := checkSet(f, fv, v); err != nil {
				return err
			}
			continue
		}
		if f.Tag.Get("required") == "true" {
			missingRequired = append(missingRequired, name)
			continue
		}
		if defaultVal, ok := f.Tag.Lookup("default"); ok {
			v, err := fromString(defaultVal, f.Type)
			if err != nil {
				return errors.Annotate(err, "error setting default value for %s", name)
			}
			if err := checkSet(f, fv, v); err != nil {
				return err
			}
			continue
		}
		v, err := convertToType(nil, f.Type)
		if err != nil {
			return errors.Annotate(err, "error creating zero value for %s", name)
		}
		if err := checkSet(f, fv, v); err != nil {
			return errors.Annotate(err, "error setting zero value for %s", name)
		}
	}
	if len(missingRequired) != 0 {
		return errors.Reason("missing required fields: %s",
			strings.Join(missingRequired, ", "))
	}
	var extra []string
	for k := range jsMap {
		if _, ok := found[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) != 0 {
		sort.Strings(extra)
		return errors.Reason("unsupported fields for %s: %s",
			rt.Name(), strings.Join(extra, ", "))
	}
	return nil
}

// StringIn checks that s equals one of the values.
func StringIn(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
