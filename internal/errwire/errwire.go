// Package errwire converts pipeline failures into the error shapes of the
// transports that carry them: gRPC statuses with BadRequest details,
// their JSON form, and GraphQL error lists.
package errwire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	failure "github.com/hanpama/dtopipe/internal/failure"
	render "github.com/hanpama/dtopipe/internal/render"
)

// Code maps a failure kind to a gRPC code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	fe, ok := failure.As(err)
	if !ok {
		return codes.Unknown
	}
	switch fe.Kind {
	case failure.KindProcessing, failure.KindAggregate:
		return codes.InvalidArgument
	case failure.KindConfiguration:
		return codes.FailedPrecondition
	case failure.KindResolution:
		return codes.Unimplemented
	}
	return codes.Unknown
}

// FieldPath renders path segments as "a.b[2]".
func FieldPath(segments []any) string {
	var b strings.Builder
	for _, seg := range segments {
		switch s := seg.(type) {
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s))
			b.WriteByte(']')
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(fmt.Sprint(s))
		}
	}
	return b.String()
}

// Status builds an InvalidArgument status for collected failures. Each
// failure becomes a field violation whose description is rendered in
// locale; the summary is attached as a LocalizedMessage.
func Status(r *render.Renderer, locale string, failures []*failure.Error) (*status.Status, error) {
	if locale == "" {
		locale = r.Locale()
	}
	br := &errdetails.BadRequest{}
	for _, fe := range failures {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       FieldPath(fe.PathSegments),
			Description: r.Message(locale, fe),
		})
	}
	summary := summarize(r.RenderAll(locale, failures))
	st := status.New(codes.InvalidArgument, summary)
	return st.WithDetails(br, &errdetails.LocalizedMessage{
		Locale:  LanguageTag(locale),
		Message: summary,
	})
}

// FromError converts err into a status. Collectable failures become a
// single field violation; fatal ones keep only their rendered message.
func FromError(r *render.Renderer, locale string, err error) (*status.Status, error) {
	fe, ok := failure.As(err)
	if !ok {
		return status.New(codes.Unknown, err.Error()), nil
	}
	if fe.Kind == failure.KindProcessing || fe.Kind == failure.KindAggregate {
		return Status(r, locale, []*failure.Error{fe})
	}
	return status.New(Code(fe), r.RenderLocale(locale, fe)), nil
}

func summarize(msgs []string) string {
	switch len(msgs) {
	case 0:
		return "invalid argument"
	case 1:
		return msgs[0]
	}
	return strings.Join(msgs, "; ")
}

// LanguageTag turns "fr_CA" into the BCP 47 form "fr-CA".
func LanguageTag(locale string) string {
	return strings.ReplaceAll(locale, "_", "-")
}

// Violation is a field violation read back from a status.
type Violation struct {
	Field       string
	Description string
}

// Violations returns the field violations carried by st.
func Violations(st *status.Status) []Violation {
	var out []Violation
	for _, d := range st.Details() {
		br, ok := d.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, fv := range br.GetFieldViolations() {
			out = append(out, Violation{Field: fv.GetField(), Description: fv.GetDescription()})
		}
	}
	return out
}

// JSON renders st in its canonical JSON form.
func JSON(st *status.Status) ([]byte, error) {
	return protojson.MarshalOptions{EmitUnpopulated: true, UseEnumNumbers: false}.Marshal(st.Proto())
}

// GraphQL converts failures into a GraphQL error list. The error path is
// the field path, and the extensions carry the code, the template and the
// render-safe params.
func GraphQL(r *render.Renderer, locale string, failures []*failure.Error) gqlerror.List {
	if locale == "" {
		locale = r.Locale()
	}
	out := make(gqlerror.List, 0, len(failures))
	for _, fe := range failures {
		ext := map[string]any{
			"code":     fe.Code,
			"template": fe.Template,
		}
		if len(fe.Params) > 0 {
			ext["params"] = fe.Params
		}
		out = append(out, &gqlerror.Error{
			Err:        fe,
			Message:    r.Message(locale, fe),
			Path:       gqlPath(fe.PathSegments),
			Extensions: ext,
		})
	}
	return out
}

func gqlPath(segments []any) ast.Path {
	if len(segments) == 0 {
		return nil
	}
	path := make(ast.Path, 0, len(segments))
	for _, seg := range segments {
		switch s := seg.(type) {
		case int:
			path = append(path, ast.PathIndex(s))
		case string:
			path = append(path, ast.PathName(s))
		default:
			path = append(path, ast.PathName(fmt.Sprint(s)))
		}
	}
	return path
}
