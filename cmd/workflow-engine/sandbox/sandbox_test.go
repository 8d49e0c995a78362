package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func TestValidate_RejectsBannedStatements(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"empty", "   \n  "},
		{"import", "import os\nresult = 1"},
		{"from import", "from os import path"},
		{"def", "def f():\n    pass"},
		{"class", "class X:\n    pass"},
		{"lambda", "f = lambda x: x"},
		{"while", "while 1:\n    pass"},
		{"try", "try:\n    result = 1\nexcept Exception:\n    pass"},
		{"with", "with ctx:\n    pass"},
		{"eval", "result = eval('1+1')"},
		{"open", "result = open('/etc/passwd').read()"},
		{"getattr", "result = getattr(input_data, 'x')"},
		{"dunder", "result = (1).__class__"},
		{"dunder import", "result = __import__('os')"},
		{"global", "global x"},
	}

	for _, tc := range cases {
		if err := Validate(tc.code); err == nil {
			t.Errorf("%s: expected rejection for %q", tc.name, tc.code)
		}
	}
}

func TestValidate_AcceptsAllowedCode(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"arithmetic", "result = 1 + 2 * 3"},
		{"builtin calls", "result = sum([abs(-1), max(2, 3), len('abc')])"},
		{"math module", "result = math.sqrt(16) + math.pi"},
		{"json module", "result = json.dumps({'k': 1})"},
		{"re module", "result = re.findall('[0-9]+', 'a1b22')"},
		{"input access", "result = input_data['value'] * 2"},
		{"for loop", "total = 0\nfor x in range(10):\n    total = total + x\nresult = total"},
		{"print", "print('hello')\nresult = 'done'"},
		{"conditional", "result = 'big' if input_data['n'] > 10 else 'small'"},
	}

	for _, tc := range cases {
		if err := Validate(tc.code); err != nil {
			t.Errorf("%s: unexpected rejection: %v", tc.name, err)
		}
	}
}

func TestValidate_BannedWordsInsideStringsAllowed(t *testing.T) {
	cases := []string{
		`result = "please do not import anything"`,
		`result = 'open the door'`,
		"result = 1  # import is just a word in this comment",
		`result = "def means definition"`,
	}

	for _, code := range cases {
		if err := Validate(code); err != nil {
			t.Errorf("string/comment content must not trigger rejection: %q: %v", code, err)
		}
	}
}

func TestValidate_EscapedQuotesInStrings(t *testing.T) {
	if err := Validate(`result = "she said \"import\" aloud"`); err != nil {
		t.Errorf("escaped quotes mishandled: %v", err)
	}
}

func TestTimeoutMessage_TrimsTrailingZeros(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    string
	}{
		{200 * time.Millisecond, "Timeout after 0.2s"},
		{3 * time.Second, "Timeout after 3s"},
		{1500 * time.Millisecond, "Timeout after 1.5s"},
		{time.Second, "Timeout after 1s"},
	}

	for _, tc := range cases {
		if got := timeoutMessage(tc.timeout); got != tc.want {
			t.Errorf("timeoutMessage(%v) = %q, want %q", tc.timeout, got, tc.want)
		}
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("warning noise\n{\"success\": true}\n"); got != `{"success": true}` {
		t.Errorf("unexpected last line: %q", got)
	}
	if got := lastLine("only\n\n\n"); got != "only" {
		t.Errorf("trailing blanks must be skipped, got %q", got)
	}
	if got := lastLine(""); got != "" {
		t.Errorf("empty stdout must yield empty line, got %q", got)
	}
}

func testSandbox(cfg config.SandboxConfig) *Sandbox {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = 256
	}
	if cfg.MaxInputBytes == 0 {
		cfg.MaxInputBytes = 1 << 20
	}
	if cfg.MaxStdout == 0 {
		cfg.MaxStdout = 10000
	}
	if cfg.MaxResult == 0 {
		cfg.MaxResult = 1 << 20
	}
	return New(cfg, logger.NewNop())
}

func TestRun_ValidationFailureNeverLaunches(t *testing.T) {
	sb := testSandbox(config.SandboxConfig{PythonBin: "/nonexistent/python"})

	result := sb.Run(context.Background(), "import os", nil, nil)
	if result.Success {
		t.Fatal("banned code must fail")
	}
	if !strings.HasPrefix(result.Error, "validation failed:") {
		t.Errorf("expected validation error, got %q", result.Error)
	}
}

func TestRun_ExecutesAndCapturesStdout(t *testing.T) {
	requirePython(t)
	sb := testSandbox(config.SandboxConfig{})

	result := sb.Run(context.Background(), "print('working')\nresult = sum(range(10))", nil, nil)
	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	if got, ok := result.Result.(float64); !ok || got != 45 {
		t.Errorf("expected result 45, got %v", result.Result)
	}
	if !strings.Contains(result.Stdout, "working") {
		t.Errorf("print output must be captured, got %q", result.Stdout)
	}
}

func TestRun_InputDataVisibleToCode(t *testing.T) {
	requirePython(t)
	sb := testSandbox(config.SandboxConfig{})

	result := sb.Run(context.Background(), "result = input_data['n'] * 2",
		map[string]interface{}{"n": 21}, nil)
	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	if got, ok := result.Result.(float64); !ok || got != 42 {
		t.Errorf("expected 42, got %v", result.Result)
	}
}

func TestRun_RuntimeErrorReported(t *testing.T) {
	requirePython(t)
	sb := testSandbox(config.SandboxConfig{})

	result := sb.Run(context.Background(), "result = 1 / 0", nil, nil)
	if result.Success {
		t.Fatal("division by zero must fail")
	}
	if !strings.Contains(result.Error, "ZeroDivisionError") {
		t.Errorf("expected ZeroDivisionError, got %q", result.Error)
	}
}

func TestRun_WallClockTimeout(t *testing.T) {
	requirePython(t)
	sb := testSandbox(config.SandboxConfig{Timeout: 200 * time.Millisecond})

	result := sb.Run(context.Background(), "result = sum(range(500000000))", nil, nil)
	if result.Success {
		t.Fatal("long-running code must time out")
	}
	if result.Error != "Timeout after 0.2s" {
		t.Errorf("expected wall-clock timeout message, got %q", result.Error)
	}
}

func TestRun_InputSizeGuard(t *testing.T) {
	sb := testSandbox(config.SandboxConfig{
		PythonBin:     "/nonexistent/python",
		MaxInputBytes: 64,
	})

	big := map[string]interface{}{"blob": strings.Repeat("x", 1024)}
	result := sb.Run(context.Background(), "result = 1", big, nil)
	if result.Success {
		t.Fatal("oversized input must fail")
	}
	if !strings.Contains(result.Error, "input too large") {
		t.Errorf("expected size guard error, got %q", result.Error)
	}
}
