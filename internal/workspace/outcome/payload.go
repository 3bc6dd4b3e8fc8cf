package outcome

import (
	"encoding/json"
	"reflect"

	"practiceoj/internal/workspace/diagnostic"
	appErr "practiceoj/pkg/errors"

	"github.com/mitchellh/mapstructure"
)

// Payload is the raw result shape shared by the HTTP response and the push event.
// Both channels name a few fields differently; the aliases are folded in while decoding.
type Payload struct {
	ClientID     string `mapstructure:"clientId"`
	SubmissionID string `mapstructure:"submissionId"`
	ProblemID    string `mapstructure:"problemId"`
	UserID       string `mapstructure:"userId"`
	Language     string `mapstructure:"language"`
	Status       string `mapstructure:"status"`
	Verdict      string `mapstructure:"verdict"`
	Timestamp    int64  `mapstructure:"timestamp"`

	// run-only
	Success *bool   `mapstructure:"success"`
	Output  *string `mapstructure:"output"`

	Error     *string          `mapstructure:"error"`
	ErrorInfo *diagnostic.Hint `mapstructure:"errorInfo"`

	TestsPassed     *int          `mapstructure:"testsPassed"`
	TestsTotal      *int          `mapstructure:"testsTotal"`
	ExecutionTimeMs *float64      `mapstructure:"executionTimeMs"`
	MemoryKb        *float64      `mapstructure:"memoryKb"`
	Results         []TestPayload `mapstructure:"results"`
}

// TestPayload is one entry of a results array.
type TestPayload struct {
	Input          string `mapstructure:"input"`
	ExpectedOutput string `mapstructure:"expectedOutput"`
	ActualOutput   string `mapstructure:"actualOutput"`
	Passed         bool   `mapstructure:"passed"`
	Verdict        string `mapstructure:"verdict"`
}

// fieldAliases maps alternate backend field names to the canonical ones.
var fieldAliases = map[string]string{
	"client_id":       "clientId",
	"submission_id":   "submissionId",
	"id":              "submissionId",
	"problem_id":      "problemId",
	"user_id":         "userId",
	"language_id":     "language",
	"state":           "status",
	"result":          "verdict",
	"error_info":      "errorInfo",
	"tests_passed":    "testsPassed",
	"passed_tests":    "testsPassed",
	"tests_total":     "testsTotal",
	"total_tests":     "testsTotal",
	"executionTime":   "executionTimeMs",
	"execution_time":  "executionTimeMs",
	"time":            "executionTimeMs",
	"memory":          "memoryKb",
	"memory_kb":       "memoryKb",
	"testResults":     "results",
	"test_results":    "results",
	"expected":        "expectedOutput",
	"expected_output": "expectedOutput",
	"actual":          "actualOutput",
	"actual_output":   "actualOutput",
	"stdout":          "output",
	"stderr":          "error",
	"created_at":      "timestamp",
}

var (
	payloadType     = reflect.TypeOf(Payload{})
	testPayloadType = reflect.TypeOf(TestPayload{})
)

// foldAliases rewrites alias keys on a copy of the input map; canonical keys win.
func foldAliases(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != payloadType && to != testPayloadType {
		return data, nil
	}
	in, ok := data.(map[string]interface{})
	if !ok {
		return data, nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if canonical, isAlias := fieldAliases[k]; isAlias {
			if _, exists := in[canonical]; exists {
				continue
			}
			k = canonical
		}
		out[k] = v
	}
	return out, nil
}

// DecodePayload decodes a generic map (a decoded JSON object) into a Payload.
// Numbers sent as strings and similar loose typing are tolerated.
func DecodePayload(raw map[string]interface{}) (Payload, error) {
	var p Payload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       foldAliases,
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return Payload{}, appErr.Wrapf(err, appErr.InternalServerError, "build payload decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return Payload{}, appErr.Wrapf(err, appErr.MalformedResponse, "decode result payload")
	}
	return p, nil
}

// ParsePayload decodes a JSON object into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, appErr.Wrapf(err, appErr.MalformedResponse, "parse result payload")
	}
	if raw == nil {
		return Payload{}, appErr.New(appErr.MalformedResponse).WithMessage("result payload is empty")
	}
	return DecodePayload(raw)
}

// KindOf infers the result kind: a payload with a success flag and no verdict is a run result.
// Push events only ever carry submission results.
func (p Payload) KindOf(channel Channel) Kind {
	if channel == ChannelPush {
		return SubmitResult
	}
	if p.Success != nil && p.Verdict == "" && p.Status == "" {
		return RunResult
	}
	return SubmitResult
}

// Validate reports payloads missing the fields required to build an outcome of the given kind.
func (p Payload) Validate(kind Kind) error {
	switch kind {
	case RunResult:
		if p.Success == nil {
			return appErr.ValidationError("success", "required")
		}
	default:
		if p.Verdict == "" && p.Status == "" {
			return appErr.ValidationError("verdict", "required")
		}
	}
	return nil
}
