package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
)

// Result is the outcome of one sandboxed run. Exactly one of Result/Stdout
// (success) or Error (failure) is meaningful.
type Result struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
	Stdout  string      `json:"stdout"`
	Error   string      `json:"error,omitempty"`
}

// Sandbox executes Python snippets through a fixed harness in a child
// process. The harness re-validates the AST, installs resource limits and
// a restricted builtins table, then runs the snippet.
type Sandbox struct {
	cfg config.SandboxConfig
	log *logger.Logger
}

func New(cfg config.SandboxConfig, log *logger.Logger) *Sandbox {
	return &Sandbox{cfg: cfg, log: log}
}

// payload is what the harness reads from stdin
type payload struct {
	Code        string      `json:"code"`
	InputData   interface{} `json:"input_data"`
	Context     interface{} `json:"context"`
	TimeoutSecs float64     `json:"timeout_secs"`
	MaxMemoryMB int         `json:"max_memory_mb"`
	MaxStdout   int         `json:"max_stdout"`
}

// Run validates and executes the snippet. Failures are reported in the
// Result, not as Go errors; only total inability to launch the child
// surfaces as a failed Result too, so callers have one shape to handle.
func (s *Sandbox) Run(ctx context.Context, code string, inputData, execContext interface{}) *Result {
	if err := Validate(code); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("validation failed: %s", err.Error())}
	}

	request := payload{
		Code:        code,
		InputData:   inputData,
		Context:     execContext,
		TimeoutSecs: s.cfg.Timeout.Seconds(),
		MaxMemoryMB: s.cfg.MaxMemoryMB,
		MaxStdout:   s.cfg.MaxStdout,
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("input serialization failed: %s", err.Error())}
	}
	if len(encoded) > s.cfg.MaxInputBytes {
		return &Result{Success: false, Error: fmt.Sprintf("input too large: %d bytes exceeds limit %d", len(encoded), s.cfg.MaxInputBytes)}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout+500*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.cfg.PythonBin, "-c", harness)
	cmd.Stdin = bytes.NewReader(encoded)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded || (runErr != nil && elapsed >= s.cfg.Timeout) {
		return &Result{Success: false, Error: timeoutMessage(s.cfg.Timeout)}
	}

	// The harness prints exactly one JSON line on the last line of stdout
	line := lastLine(stdout.String())
	if line == "" {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		if msg == "" {
			msg = "sandbox produced no result"
		}
		return &Result{Success: false, Error: msg}
	}

	if len(line) > s.cfg.MaxResult {
		return &Result{Success: false, Error: fmt.Sprintf("result too large: %d bytes exceeds limit %d", len(line), s.cfg.MaxResult)}
	}

	var result Result
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("sandbox result decode failed: %s", err.Error())}
	}
	return &result
}

// timeoutMessage formats wall-clock expiry the way callers match on, with
// trailing zeros trimmed ("0.2s", "3s").
func timeoutMessage(timeout time.Duration) string {
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	return fmt.Sprintf("Timeout after %ss", secs)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// harness is the fixed program the child runs. It reads the payload from
// stdin, applies rlimits, validates the AST, executes under restricted
// globals, and writes one JSON result line to stdout.
const harness = `
import ast, io, json, math, re, resource, sys

def fail(msg):
    sys.stdout.write("\n" + json.dumps({"success": False, "error": msg}) + "\n")
    sys.exit(0)

payload = json.loads(sys.stdin.read())
code = payload["code"]
timeout = payload.get("timeout_secs", 3.0)
max_memory_mb = payload.get("max_memory_mb", 256)
max_stdout = payload.get("max_stdout", 10000)

cpu = int(timeout) + 1
try:
    resource.setrlimit(resource.RLIMIT_CPU, (cpu, cpu))
    mem = max_memory_mb * 1024 * 1024
    resource.setrlimit(resource.RLIMIT_AS, (mem, mem))
except (ValueError, OSError):
    pass

BANNED = {"__import__", "__builtins__", "open", "eval", "exec", "compile",
          "globals", "locals", "vars", "dir", "help", "input", "breakpoint",
          "getattr", "setattr", "delattr", "hasattr", "type", "object",
          "super", "classmethod", "staticmethod", "property"}
ALLOWED_CALLS = {"abs", "all", "any", "bool", "dict", "enumerate", "filter",
                 "float", "int", "len", "list", "map", "max", "min", "pow",
                 "range", "reversed", "round", "set", "sorted", "str", "sum",
                 "tuple", "zip", "print"}
ALLOWED_MODULES = {"math", "json", "re"}
BANNED_NODES = (ast.Import, ast.ImportFrom, ast.Global, ast.Nonlocal,
                ast.FunctionDef, ast.AsyncFunctionDef, ast.ClassDef,
                ast.Lambda, ast.While, ast.Try, ast.With, ast.AsyncWith,
                ast.Raise, ast.Assert, ast.Delete)

try:
    tree = ast.parse(code)
except SyntaxError as e:
    fail("syntax error: %s" % e)

for node in ast.walk(tree):
    if isinstance(node, BANNED_NODES):
        fail("disallowed statement: %s" % node.__class__.__name__)
    if isinstance(node, ast.Attribute) and node.attr.startswith("__"):
        fail("disallowed attribute: %s" % node.attr)
    if isinstance(node, ast.Name) and node.id in BANNED:
        fail("disallowed identifier: %s" % node.id)
    if isinstance(node, ast.Call):
        target = node.func
        if isinstance(target, ast.Name):
            if target.id not in ALLOWED_CALLS:
                fail("disallowed call: %s" % target.id)
        elif isinstance(target, ast.Attribute):
            base = target.value
            if not (isinstance(base, ast.Name) and base.id in ALLOWED_MODULES):
                fail("disallowed method call: %s" % target.attr)
        else:
            fail("disallowed call form")

buf = io.StringIO()

def captured_print(*args, **kwargs):
    kwargs.pop("file", None)
    if buf.tell() < max_stdout:
        print(*args, file=buf, **kwargs)

safe_builtins = {name: __builtins__[name] if isinstance(__builtins__, dict)
                 else getattr(__builtins__, name)
                 for name in ALLOWED_CALLS if name != "print"}
safe_builtins["print"] = captured_print
safe_builtins["True"] = True
safe_builtins["False"] = False
safe_builtins["None"] = None

scope = {
    "__builtins__": safe_builtins,
    "math": math,
    "json": json,
    "re": re,
    "input_data": payload.get("input_data"),
    "context": payload.get("context"),
    "result": None,
    "print": captured_print,
}

try:
    exec(compile(tree, "<sandbox>", "exec"), scope)
except MemoryError:
    fail("memory limit exceeded")
except BaseException as e:
    fail("%s: %s" % (e.__class__.__name__, e))

out = buf.getvalue()[:max_stdout]
try:
    line = json.dumps({"success": True, "result": scope.get("result"), "stdout": out})
except (TypeError, ValueError):
    line = json.dumps({"success": True, "result": str(scope.get("result")), "stdout": out})
sys.stdout.write("\n" + line + "\n")
`
