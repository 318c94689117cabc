package advisory

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrProviderUnavailable = errors.New("advisory provider unavailable")
	ErrUnknownStandard     = errors.New("unknown compliance standard")
)

// Prompt is one advisory request. System carries fleet context and may
// be empty; Task is the instruction.
type Prompt struct {
	System string
	Task   string
}

// Advisor turns a prompt into free-form Markdown.
type Advisor interface {
	GenerateAdvisory(ctx context.Context, prompt Prompt) (string, error)
}

// ProviderError is an error answer from the text generation API.
type ProviderError struct {
	StatusCode int
	Status     string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Status != "" {
		return fmt.Sprintf("advisory: status %d: %s: %s", err.StatusCode, err.Status, err.Message)
	}
	return fmt.Sprintf("advisory: status %d: %s", err.StatusCode, err.Message)
}

// StaticAdvisor answers every prompt with Text. With Err set it fails
// instead.
type StaticAdvisor struct {
	Text string
	Err  error
}

func (a StaticAdvisor) GenerateAdvisory(ctx context.Context, _ Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.Err != nil {
		return "", a.Err
	}
	return a.Text, nil
}

type Standard string

const (
	StandardNIST     Standard = "NIST"
	StandardGDPR     Standard = "GDPR"
	StandardISO27001 Standard = "ISO27001"
)

func ParseStandard(s string) (Standard, error) {
	switch st := Standard(s); st {
	case StandardNIST, StandardGDPR, StandardISO27001:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStandard, s)
}
