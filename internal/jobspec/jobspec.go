// Package jobspec turns a parameter set into a self-contained training script.
//
// The script is rendered from a single template. Every value reaches the
// template as an already formatted Python literal produced by Literal, so
// the template has no way to interpolate raw user text.
package jobspec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/CZERTAINLY/Trainer/internal/model"
)

const scriptTemplate = `from ultralytics import YOLO


def main():
    model = YOLO({{ .Model }})

    model.train(
        data={{ .Data }},
{{- range .Args }}
        {{ .Name }}={{ .Literal }},
{{- end }}
    )


if __name__ == '__main__':
    main()
`

var (
	errInvalidUTF8 = errors.New("not valid UTF-8")

	tmpl         = template.Must(template.New("train.py").Parse(scriptTemplate))
	identifierRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Arg is a keyword argument of the training call.
type Arg struct {
	Name    string
	Kind    model.Kind
	Literal string
}

// JobSpec is an immutable description of one training job. All the values
// are embedded in Script as literals.
type JobSpec struct {
	Model       string
	Dataset     string
	Args        []Arg
	Interpreter string
	Script      []byte
}

// Builder builds JobSpecs for a parameter schema.
type Builder struct {
	schema      model.Schema
	interpreter string
}

func NewBuilder(schema model.Schema, interpreter string) (*Builder, error) {
	if interpreter == "" {
		interpreter = "python3"
	}
	seen := make(map[string]struct{}, len(schema.Params)+len(schema.Flags))
	for _, d := range append(append([]model.ParamDef(nil), schema.Params...), schema.Flags...) {
		if !identifierRx.MatchString(d.Name) {
			return nil, fmt.Errorf("parameter name %q is not an identifier", d.Name)
		}
		if d.Name == "data" {
			return nil, errors.New("parameter name data is reserved")
		}
		if _, ok := seen[d.Name]; ok {
			return nil, fmt.Errorf("parameter %s declared twice", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	for _, d := range schema.Flags {
		if d.Kind != model.KindBool {
			return nil, fmt.Errorf("flag %s must be a bool, got %s", d.Name, d.Kind)
		}
	}
	return &Builder{schema: schema, interpreter: interpreter}, nil
}

func (b *Builder) Schema() model.Schema {
	return b.schema
}

// Build renders the job. Every schema parameter must be present in params,
// while flags fall back to their defaults. Unknown names are ignored.
func (b *Builder) Build(params model.ParameterSet, modelSource, datasetPath string) (JobSpec, error) {
	if strings.TrimSpace(modelSource) == "" {
		return JobSpec{}, fmt.Errorf("%w: model source is empty", model.ErrMissingInput)
	}
	if strings.TrimSpace(datasetPath) == "" {
		return JobSpec{}, fmt.Errorf("%w: dataset path is empty", model.ErrMissingInput)
	}
	if !utf8.ValidString(modelSource) {
		return JobSpec{}, &model.ParamError{Name: "model", Kind: model.KindString, Err: errInvalidUTF8}
	}
	if !utf8.ValidString(datasetPath) {
		return JobSpec{}, &model.ParamError{Name: "data", Kind: model.KindString, Err: errInvalidUTF8}
	}

	args := make([]Arg, 0, len(b.schema.Params)+len(b.schema.Flags))
	var errs []error
	for _, d := range b.schema.Params {
		v, ok := params[d.Name]
		if !ok {
			errs = append(errs, &model.ParamError{Name: d.Name, Kind: d.Kind, Err: errors.New("missing value")})
			continue
		}
		lit, err := Literal(d.Kind, v)
		if err != nil {
			errs = append(errs, &model.ParamError{Name: d.Name, Kind: d.Kind, Err: err})
			continue
		}
		args = append(args, Arg{Name: d.Name, Kind: d.Kind, Literal: lit})
	}
	for _, d := range b.schema.Flags {
		v, ok := params[d.Name]
		if !ok {
			v = d.Default
		}
		lit, err := Literal(model.KindBool, v)
		if err != nil {
			errs = append(errs, &model.ParamError{Name: d.Name, Kind: d.Kind, Err: err})
			continue
		}
		args = append(args, Arg{Name: d.Name, Kind: d.Kind, Literal: lit})
	}
	if len(errs) > 0 {
		return JobSpec{}, errors.Join(errs...)
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		Model string
		Data  string
		Args  []Arg
	}{
		Model: quote(modelSource),
		Data:  quote(datasetPath),
		Args:  args,
	})
	if err != nil {
		return JobSpec{}, fmt.Errorf("rendering job template: %w", err)
	}

	return JobSpec{
		Model:       modelSource,
		Dataset:     datasetPath,
		Args:        args,
		Interpreter: b.interpreter,
		Script:      buf.Bytes(),
	}, nil
}

// Literal formats v as a Python literal of the declared kind.
func Literal(kind model.Kind, v model.Value) (string, error) {
	switch kind {
	case model.KindInt:
		i, err := v.AsInt()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(i, 10), nil
	case model.KindFloat:
		f, err := v.AsFloat()
		if err != nil {
			return "", err
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s, nil
	case model.KindString:
		s, err := v.AsString()
		if err != nil {
			return "", err
		}
		if !utf8.ValidString(s) {
			return "", errInvalidUTF8
		}
		return quote(s), nil
	case model.KindBool:
		b, err := v.AsBool()
		if err != nil {
			return "", err
		}
		if b {
			return "True", nil
		}
		return "False", nil
	default:
		return "", fmt.Errorf("unsupported kind %s", kind)
	}
}

// quote relies on Go escapes (\" \\ \n \uNNNN) being valid Python string
// escapes too. Input must be valid UTF-8: Python reads \xNN as U+00NN, not as
// the raw byte.
func quote(s string) string {
	return strconv.Quote(s)
}

// Write stores the script as name inside dir and returns its absolute path.
// Write errors wrap model.ErrLaunchFailure, as no process may start without it.
func (s JobSpec) Write(dir, name string) (string, error) {
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return "", fmt.Errorf("%w: opening work dir: %w", model.ErrLaunchFailure, err)
	}
	defer func() {
		_ = root.Close()
	}()

	f, err := root.Create(name)
	if err != nil {
		return "", fmt.Errorf("%w: creating job script: %w", model.ErrLaunchFailure, err)
	}
	_, err = f.Write(s.Script)
	if err != nil {
		_ = f.Close()
		_ = root.Remove(name)
		return "", fmt.Errorf("%w: writing job script: %w", model.ErrLaunchFailure, err)
	}
	if err := f.Close(); err != nil {
		_ = root.Remove(name)
		return "", fmt.Errorf("%w: closing job script: %w", model.ErrLaunchFailure, err)
	}

	abs, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrLaunchFailure, err)
	}
	return abs, nil
}

// Argv returns the interpreter arguments running the script at path.
// -u keeps the output unbuffered, so progress arrives line by line.
func (s JobSpec) Argv(path string) []string {
	return []string{"-u", path}
}
