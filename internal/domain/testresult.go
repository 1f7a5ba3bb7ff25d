package domain

import "time"

// TestOutcome is the result of a single named test.
type TestOutcome struct {
	TestName string `json:"testName"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// TestResult is the structured outcome of one lesson test run.
type TestResult struct {
	Project  string
	Lesson   int
	Outcomes []TestOutcome
	Hints    []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Passed returns true if every outcome passed and the command exited 0.
func (r *TestResult) Passed() bool {
	if r.ExitCode != 0 {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Counts returns the number of passing and failing outcomes.
func (r *TestResult) Counts() (passed, failed int) {
	for _, o := range r.Outcomes {
		if o.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// TestRun is a persisted record of a completed test run.
type TestRun struct {
	ID         int64     `json:"id"`
	Project    string    `json:"project"`
	Lesson     int       `json:"lesson"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	ExitCode   int       `json:"exit_code"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
