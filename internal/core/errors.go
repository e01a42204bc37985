package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	ai "github.com/sashabaranov/go-openai"
)

// Kind classifies a failure surfaced by the voice pipeline.
type Kind string

const (
	KindAudioConversion    Kind = "audio_conversion"
	KindDeploymentNotFound Kind = "deployment_not_found"
	KindAuthentication     Kind = "authentication"
	KindToolArgumentParse  Kind = "tool_argument_parse"
	KindToolExecution      Kind = "tool_execution"
	KindSynthesis          Kind = "synthesis"
	KindUpstream           Kind = "upstream"
)

// Error is the structured failure returned by transcription, chat and tool dispatch.
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// Deployment is the model deployment involved, when there is one.
	Deployment string
	// UpstreamType is the Go type of the upstream failure, for diagnostics.
	UpstreamType string

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// auth and missing-resource codes reported by AWS services
var (
	awsAuthCodes = map[string]bool{
		"UnrecognizedClientException": true,
		"InvalidSignatureException":   true,
		"AccessDeniedException":       true,
		"ExpiredTokenException":       true,
		"MissingAuthenticationToken":  true,
	}
	awsNotFoundCodes = map[string]bool{
		"ResourceNotFoundException": true,
		"ModelNotReadyException":    true,
	}
)

// ClassifyUpstream turns an error from a model backend into an *Error.
// Structured status codes are trusted first; the text of the error is only
// inspected when the upstream gave nothing structured.
func ClassifyUpstream(op, deployment string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	kind, upstreamType, structured := classifyStructured(err)
	if !structured {
		upstreamType = fmt.Sprintf("%T", err)
		kind = classifyText(err.Error())
	}

	e := &Error{
		Kind:         kind,
		Op:           op,
		Deployment:   deployment,
		UpstreamType: upstreamType,
		Err:          err,
	}
	switch kind {
	case KindDeploymentNotFound:
		e.Message = fmt.Sprintf("model deployment '%s' not found or not accessible: %v", deployment, err)
	case KindAuthentication:
		e.Message = fmt.Sprintf("authentication failed, check credentials: %v", err)
	default:
		e.Message = fmt.Sprintf("%s API error: %v", op, err)
	}
	return e
}

func classifyStructured(err error) (Kind, string, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUpstream, fmt.Sprintf("%T", err), true
	}

	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && strings.EqualFold(code, "DeploymentNotFound") {
			return KindDeploymentNotFound, fmt.Sprintf("%T", apiErr), true
		}
		return kindForStatus(apiErr.HTTPStatusCode), fmt.Sprintf("%T", apiErr), true
	}

	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode), fmt.Sprintf("%T", reqErr), true
	}

	var awsErr smithy.APIError
	if errors.As(err, &awsErr) {
		switch {
		case awsAuthCodes[awsErr.ErrorCode()]:
			return KindAuthentication, awsErr.ErrorCode(), true
		case awsNotFoundCodes[awsErr.ErrorCode()]:
			return KindDeploymentNotFound, awsErr.ErrorCode(), true
		default:
			return KindUpstream, awsErr.ErrorCode(), true
		}
	}

	return "", "", false
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindDeploymentNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthentication
	default:
		return KindUpstream
	}
}

func classifyText(msg string) Kind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "deployment"), strings.Contains(msg, "model"):
		return KindDeploymentNotFound
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "unauthorized"):
		return KindAuthentication
	default:
		return KindUpstream
	}
}
