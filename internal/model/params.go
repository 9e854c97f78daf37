package model

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Kind is a declared type of a training parameter.
type Kind int

const (
	KindText Kind = iota // untyped text, coerced when a JobSpec is built
	KindInt
	KindFloat
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Value is a single parameter value. The zero Value is empty text.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Text is a value typed by a human (form field, --set flag). Its kind is
// decided by the parameter it is assigned to.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// ValueOf converts a decoded config scalar to a Value.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case int:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case *big.Int:
		if !v.IsInt64() {
			return Value{}, fmt.Errorf("integer %s overflows int64", v)
		}
		return Int(v.Int64()), nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case nil:
		return Value{}, fmt.Errorf("value is null")
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// MarshalText keeps the value readable in JSON and YAML output.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// AsInt coerces the value to an integer.
func (v Value) AsInt() (int64, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindFloat:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) && math.Abs(v.f) < 1<<53 {
			return int64(v.f), nil
		}
		return 0, fmt.Errorf("%v is not an integer", v.f)
	case KindText:
		i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v.s)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s value %q is not an integer", v.kind, v.String())
	}
}

// AsFloat coerces the value to a finite float.
func (v Value) AsFloat() (float64, error) {
	var f float64
	switch v.kind {
	case KindFloat:
		f = v.f
	case KindInt:
		f = float64(v.i)
	case KindText:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v.s)
		}
	default:
		return 0, fmt.Errorf("%s value %q is not a number", v.kind, v.String())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", f)
	}
	return f, nil
}

// AsString returns the text of a string or text value.
func (v Value) AsString() (string, error) {
	switch v.kind {
	case KindString, KindText:
		return v.s, nil
	default:
		return "", fmt.Errorf("%s value %q is not a string", v.kind, v.String())
	}
}

// AsBool coerces the value to a boolean.
func (v Value) AsBool() (bool, error) {
	switch v.kind {
	case KindBool:
		return v.b, nil
	case KindText:
		b, err := strconv.ParseBool(strings.TrimSpace(v.s))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", v.s)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s value %q is not a boolean", v.kind, v.String())
	}
}

// ParameterSet maps a parameter name to its value. Names unknown to the
// schema are ignored by the builder.
type ParameterSet map[string]Value

// Clone returns a shallow copy, so the caller may keep mutating its own set.
func (p ParameterSet) Clone() ParameterSet {
	ret := make(ParameterSet, len(p))
	for k, v := range p {
		ret[k] = v
	}
	return ret
}

// Merge returns a copy of p overridden by every entry of o.
func (p ParameterSet) Merge(o ParameterSet) ParameterSet {
	ret := p.Clone()
	for k, v := range o {
		ret[k] = v
	}
	return ret
}

// ParamsFromMap converts decoded config values.
func ParamsFromMap(m map[string]any) (ParameterSet, error) {
	ret := make(ParameterSet, len(m))
	for k, x := range m {
		v, err := ValueOf(x)
		if err != nil {
			return nil, &ParamError{Name: k, Err: err}
		}
		ret[k] = v
	}
	return ret, nil
}

// ParseAssignment parses name=value typed on a command line.
func ParseAssignment(s string) (string, Value, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", Value{}, fmt.Errorf("expected name=value, got %q", s)
	}
	return name, Text(value), nil
}

// ParamDef declares one parameter of the job template.
type ParamDef struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Default Value  `json:"default"`
	Label   string `json:"label"`
}

// Schema is an ordered parameter declaration; the order is the order of
// emission into the job.
type Schema struct {
	Params []ParamDef `json:"params"`
	Flags  []ParamDef `json:"flags"`
}

// DefaultSchema returns the parameter table of the YOLO trainer.
func DefaultSchema() Schema {
	return Schema{
		Params: []ParamDef{
			{"epochs", KindInt, Int(100), "Epochs"},
			{"imgsz", KindInt, Int(768), "Image Size"},
			{"batch", KindInt, Int(8), "Batch Size"},
			{"device", KindInt, Int(0), "Device (GPU index)"},
			{"workers", KindInt, Int(4), "Workers"},
			{"optimizer", KindString, String("AdamW"), "Optimizer"},
			{"lr0", KindFloat, Float(0.004), "Initial Learning Rate"},
			{"lrf", KindFloat, Float(0.01), "Final Learning Rate"},
			{"weight_decay", KindFloat, Float(0.0005), "Weight Decay"},
			{"warmup_epochs", KindInt, Int(5), "Warmup Epochs"},
			{"hsv_h", KindFloat, Float(0.02), "HSV Hue"},
			{"hsv_s", KindFloat, Float(0.7), "HSV Saturation"},
			{"hsv_v", KindFloat, Float(0.5), "HSV Value"},
			{"mosaic", KindFloat, Float(1.0), "Mosaic"},
			{"close_mosaic", KindInt, Int(20), "Close Mosaic"},
			{"mixup", KindFloat, Float(0.15), "Mixup"},
			{"copy_paste", KindFloat, Float(0.3), "Copy Paste"},
			{"conf", KindFloat, Float(0.001), "Confidence Threshold"},
			{"iou", KindFloat, Float(0.7), "IOU Threshold"},
			{"patience", KindInt, Int(50), "Patience"},
		},
		Flags: []ParamDef{
			{"cos_lr", KindBool, Bool(true), "Cosine LR"},
			{"amp", KindBool, Bool(true), "AMP"},
			{"pretrained", KindBool, Bool(true), "Pretrained"},
			{"plots", KindBool, Bool(true), "Plots"},
		},
	}
}

// Defaults returns a ParameterSet holding the default of every parameter and flag.
func (s Schema) Defaults() ParameterSet {
	ret := make(ParameterSet, len(s.Params)+len(s.Flags))
	for _, d := range s.Params {
		ret[d.Name] = d.Default
	}
	for _, d := range s.Flags {
		ret[d.Name] = d.Default
	}
	return ret
}

// BuiltinModels are the pretrained weights the trainer offers by name.
var BuiltinModels = []string{
	"yolov8n.pt", "yolov8s.pt", "yolov8m.pt", "yolov8l.pt", "yolov8x.pt",
	"yolo11n.pt", "yolo11s.pt", "yolo11m.pt", "yolo11l.pt", "yolo11x.pt",
}

// ModelSource picks a custom model path over the selected built-in name.
func ModelSource(builtin, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return builtin
}
