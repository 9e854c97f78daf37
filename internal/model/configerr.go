package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// configFile names the YAML source in CUE positions.
const configFile = "trainer.yaml"

type CueErrorDetail struct {
	Path    string // service.schedule.cron
	Code    string // unknown_field | missing_required | invalid_value | conflicting_values | validation_error
	Message string
	Pos     CueErrorPosition
	Raw     string // message reported by CUE
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// enums lists the allowed values of the fields with a fixed set of values,
// by field name.
var enums = map[string][]string{
	"mode": {ServiceModeManual, ServiceModeTimer},
	"kind": {RuleKindMetric, RuleKindEpoch},
}

var classes = []struct {
	code   string
	rx     *regexp.Regexp
	format string
}{
	{"unknown_field", regexp.MustCompile(`(?i)not allowed`), "field %s is not allowed"},
	{"missing_required", regexp.MustCompile(`(?i)incomplete value`), "field %s is required"},
	{"invalid_value", regexp.MustCompile(`(?i)does not match|out of bound|invalid value`), "field %s has an invalid value"},
	{"conflicting_values", regexp.MustCompile(`(?i)conflicting values|empty disjunction`), "field %s has an unexpected value"},
}

// CueErrDetails turns a LoadConfig error into one record per offending
// position of the config file. It returns nil for other errors.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}
	seen := make(map[CueErrorPosition]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		pos, ok := position(e)
		if !ok {
			continue
		}
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}

		raw, args := e.Msg()
		path := configPath(e.Path())
		code, msg := classify(fmt.Sprintf(raw, args...), path)
		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
			Raw:     e.Error(),
		})
	}
	return out
}

func classify(raw, path string) (string, string) {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	for _, c := range classes {
		if !c.rx.MatchString(raw) {
			continue
		}
		msg := fmt.Sprintf(c.format, field)
		if values, ok := enums[field]; ok && c.code != "unknown_field" {
			msg += ": possible values (" + strings.Join(values, ",") + ")"
		}
		return c.code, msg
	}
	return "validation_error", raw
}

// position prefers a position inside the config file over one in the
// schema, positions without a file are ignored.
func position(e cueerrors.Error) (CueErrorPosition, bool) {
	var ret CueErrorPosition
	for _, p := range cueerrors.Positions(e) {
		if p.Filename() == "" {
			continue
		}
		if ret.Filename == "" || p.Filename() == configFile {
			ret = CueErrorPosition{Filename: p.Filename(), Line: p.Line(), Column: p.Column()}
		}
		if p.Filename() == configFile {
			break
		}
	}
	return ret, ret.Filename != ""
}

// configPath drops the #Config definition from a CUE path.
func configPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
