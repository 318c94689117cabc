package advisory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/iot-shield/internal/fleet"
)

const (
	DefaultTimeout = 30 * time.Second

	AnalysisUnavailable   = "AI Analysis unavailable due to connection error."
	AnalysisEmpty         = "Unable to generate analysis."
	ComplianceUnavailable = "Compliance mapping unavailable."
	ComplianceEmpty       = "No compliance data generated."
)

// Service wraps an Advisor with the console's prompts. It never fails:
// provider errors, timeouts and empty answers become fixed fallback
// text.
type Service struct {
	advisor Advisor
	timeout time.Duration

	background sync.WaitGroup
}

func NewService(advisor Advisor, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{advisor: advisor, timeout: timeout}
}

// Go runs fn in the background. Wait blocks until every fn started this
// way has returned.
func (s *Service) Go(fn func()) {
	s.background.Go(fn)
}

// Wait returns once background requests finish, or with ctx's error if
// ctx ends first.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) AnalyzeSecurityPosture(ctx context.Context, devices []fleet.Device, alerts []fleet.Alert) string {
	return s.run(ctx, "analysis", PosturePrompt(devices, alerts), AnalysisEmpty, AnalysisUnavailable)
}

func (s *Service) GenerateComplianceMap(ctx context.Context, standard Standard) string {
	return s.run(ctx, "compliance", CompliancePrompt(standard), ComplianceEmpty, ComplianceUnavailable)
}

func (s *Service) run(ctx context.Context, kind string, prompt Prompt, empty, unavailable string) string {
	if s.advisor == nil {
		slog.Debug("No advisory provider configured", "kind", kind)
		return unavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.advisor.GenerateAdvisory(ctx, prompt)
	if err != nil {
		slog.Error("Advisory request failed", "kind", kind, "duration", time.Since(start), "error", err)
		return unavailable
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("Advisory provider returned no text", "kind", kind)
		return empty
	}

	slog.Debug("Advisory generated", "kind", kind, "duration", time.Since(start), "length", len(text))
	return text
}

func PosturePrompt(devices []fleet.Device, alerts []fleet.Alert) Prompt {
	var sys strings.Builder
	sys.WriteString("You are a Senior IoT Security Analyst AI.\n")
	sys.WriteString("Analyze the following fleet status and alerts for a Secure Firmware Update System.\n")
	sys.WriteString("Identify potential security breaches, rollback attacks, or unsigned firmware attempts.\n\n")
	fmt.Fprintf(&sys, "Device Count: %d\n", len(devices))
	fmt.Fprintf(&sys, "Vulnerable Devices: %d\n\n", fleet.AtRisk(devices))
	sys.WriteString("Recent Alerts:\n")
	for i, a := range alerts {
		if i > 0 {
			sys.WriteString("\n")
		}
		fmt.Fprintf(&sys, "- [%s] %s (%s)", a.Severity, a.Message, a.Timestamp.UTC().Format(time.RFC3339))
	}

	return Prompt{
		System: sys.String(),
		Task: "Based on the context above, provide a concise security summary (max 200 words).\n" +
			"Highlight immediate risks specifically related to firmware integrity, secure boot failures, or communication interceptions.\n" +
			"Suggest 3 actionable remediation steps.\n" +
			"Output in Markdown format.",
	}
}

func CompliancePrompt(standard Standard) Prompt {
	return Prompt{
		Task: fmt.Sprintf("Generate a checklist for an IoT Firmware Update Mechanism to ensure compliance with %s.\n"+
			"Focus on:\n"+
			"1. Secure Boot\n"+
			"2. Code Signing\n"+
			"3. Update Verification\n"+
			"4. Audit Logging\n\n"+
			"Format as a markdown list with checkboxes.", standard),
	}
}
