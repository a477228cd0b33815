package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
	"github.com/Iron-Ham/tutti/internal/util"
)

const (
	// errorTailLines bounds how many trailing output lines survive into
	// Result.Error. Agent runs can produce megabytes of output; the
	// operative error is at the end.
	errorTailLines = 20

	// maxEnvelopeLine is the scanner buffer cap for a single output line.
	// Result envelopes carry the full response text in one line.
	maxEnvelopeLine = 4 * 1024 * 1024
)

// resultEnvelope is the JSON object the agent CLI prints in one-shot
// print mode. Only the fields tutti reads are mapped; unknown fields are
// ignored.
type resultEnvelope struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	TotalCost float64 `json:"total_cost_usd"`
	Usage     struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// CLIAgent runs the agent binary as a one-shot subprocess in print mode
// and parses the JSON result envelope it emits. It is safe for
// concurrent use; each Execute call spawns its own process.
type CLIAgent struct {
	binary string
	log    *logging.Logger
}

// NewCLIAgent creates a CLIAgent for the given binary name or path.
// An empty binary defaults to "claude".
func NewCLIAgent(binary string, log *logging.Logger) *CLIAgent {
	if binary == "" {
		binary = "claude"
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &CLIAgent{binary: binary, log: log}
}

// CheckInstalled reports whether the agent binary can be found. The
// scheduler calls this once before dispatching anything so a missing
// binary fails the run up front instead of failing every task.
func (a *CLIAgent) CheckInstalled() error {
	if _, err := exec.LookPath(a.binary); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrAgentNotFound, a.binary)
	}
	return nil
}

// buildArgs assembles the one-shot command line. The prompt goes last,
// after a "--" separator so prompt text starting with a dash is never
// read as a flag.
func (a *CLIAgent) buildArgs(prompt string, opts Options) []string {
	args := []string{"--print", "--output-format", "json", "--dangerously-skip-permissions"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, "--", prompt)
	return args
}

// Execute runs one agent attempt in dir and blocks until the process
// exits or ctx expires. A nil error means the process exited zero;
// Result.Success reflects what the agent itself reported. A context
// deadline is surfaced as an error wrapping errors.ErrTimeout so the
// retry loop classifies it as transient.
func (a *CLIAgent) Execute(ctx context.Context, prompt string, dir string, opts Options) (Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, a.binary, a.buildArgs(prompt, opts)...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.log.Debug("starting agent process", "binary", a.binary, "dir", dir, "model", opts.Model)
	runErr := cmd.Run()

	res := parseAgentOutput(stdout.Bytes())
	res.Duration = time.Since(start)

	if runErr != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = failureTail(stderr.String(), stdout.String())
		}
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return res, fmt.Errorf("%w: agent attempt after %s", errors.ErrTimeout, res.Duration.Round(time.Second))
		case ctx.Err() == context.Canceled:
			return res, ctx.Err()
		case errors.Is(runErr, exec.ErrNotFound):
			return res, fmt.Errorf("%w: %s", errors.ErrAgentNotFound, a.binary)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return res, errors.NewAgentError(
				fmt.Sprintf("agent exited with code %d", exitErr.ExitCode()), runErr)
		}
		return res, errors.NewAgentError("starting agent process", runErr)
	}

	return res, nil
}

// parseAgentOutput scans stdout for the result envelope. The CLI prints
// exactly one envelope in json mode; scanning lines also tolerates
// stream-json output, where the envelope is the final line. When no
// envelope is found the raw output is treated as a successful plain-text
// response, which is what agents without JSON output produce.
func parseAgentOutput(stdout []byte) Result {
	var env resultEnvelope
	found := false

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var candidate resultEnvelope
		if err := json.Unmarshal(line, &candidate); err != nil {
			continue
		}
		if candidate.Type == "result" {
			env = candidate
			found = true
		}
	}

	if !found {
		return Result{
			Success:  true,
			Response: string(bytes.TrimSpace(stdout)),
		}
	}

	res := Result{
		Success:      !env.IsError,
		Response:     env.Result,
		InputTokens:  env.Usage.InputTokens,
		OutputTokens: env.Usage.OutputTokens,
		CostUSD:      env.TotalCost,
	}
	if env.IsError {
		res.Error = util.TailLines(env.Result, errorTailLines)
		if res.Error == "" {
			res.Error = "agent reported failure: " + env.Subtype
		}
		res.Response = ""
	}
	return res
}

// failureTail picks the most useful failure text from process output,
// preferring stderr.
func failureTail(stderr, stdout string) string {
	if tail := util.TailLines(stderr, errorTailLines); tail != "" {
		return tail
	}
	return util.TailLines(stdout, errorTailLines)
}
