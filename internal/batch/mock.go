package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockService is an in-memory Service for tests and offline runs. It
// remembers every upload, mints deterministic ids (mockfile-1,
// mockjob-1, ...), and completes unscripted jobs immediately with an
// output file synthesized from the job's own input payload: one success
// line per request, echoing its correlation id.
//
// Because job ids are assigned in creation order, status sequences can
// be staged with Script before the submission that creates them.
type MockService struct {
	mu sync.Mutex

	// UploadErrs, CreateErrs, and RetrieveErrs are popped once per
	// corresponding call; a nil entry means that call succeeds.
	UploadErrs   []error
	CreateErrs   []error
	RetrieveErrs []error

	// FailNth marks request ordinals (0-based within a job's payload)
	// whose synthesized result is an error line.
	FailNth map[int]bool
	// OmitNth drops request ordinals from the synthesized output
	// entirely.
	OmitNth map[int]bool

	Uploads   int
	Creates   int
	Retrieves int
	Downloads int

	// Names records upload filenames in call order.
	Names []string

	uploads map[string][]byte
	jobs    map[string]mockJob
	scripts map[string][]JobInfo
	cursors map[string]int
	outputs map[string]string
	files   map[string][]byte

	nFiles int
	nJobs  int
}

type mockJob struct {
	inputFileID string
	meta        JobMeta
}

// NewMockService creates an empty mock.
func NewMockService() *MockService {
	return &MockService{
		uploads: make(map[string][]byte),
		jobs:    make(map[string]mockJob),
		scripts: make(map[string][]JobInfo),
		cursors: make(map[string]int),
		outputs: make(map[string]string),
		files:   make(map[string][]byte),
	}
}

// Script queues the statuses RetrieveJob walks through for a job, one
// per call; the last entry repeats once reached. Scripted snapshots are
// returned verbatim except that a completed snapshot with no output
// file id gets the synthesized one.
func (m *MockService) Script(jobID string, infos ...JobInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[jobID] = infos
}

// SetFile registers downloadable content under an arbitrary file id.
func (m *MockService) SetFile(fileID string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = append([]byte(nil), content...)
}

func (m *MockService) UploadFile(_ context.Context, name string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads++
	if err := popErr(&m.UploadErrs); err != nil {
		return "", err
	}
	m.nFiles++
	id := fmt.Sprintf("mockfile-%d", m.nFiles)
	m.uploads[id] = append([]byte(nil), payload...)
	m.Names = append(m.Names, name)
	return id, nil
}

func (m *MockService) CreateJob(_ context.Context, inputFileID string, meta JobMeta) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Creates++
	if err := popErr(&m.CreateErrs); err != nil {
		return "", err
	}
	if _, ok := m.uploads[inputFileID]; !ok {
		return "", fmt.Errorf("mock: unknown input file %s", inputFileID)
	}
	m.nJobs++
	id := fmt.Sprintf("mockjob-%d", m.nJobs)
	m.jobs[id] = mockJob{inputFileID: inputFileID, meta: meta}
	return id, nil
}

func (m *MockService) RetrieveJob(_ context.Context, jobID string) (JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retrieves++
	if err := popErr(&m.RetrieveErrs); err != nil {
		return JobInfo{}, err
	}

	if script := m.scripts[jobID]; len(script) > 0 {
		i := m.cursors[jobID]
		if i >= len(script) {
			i = len(script) - 1
		} else {
			m.cursors[jobID] = i + 1
		}
		info := script[i]
		info.ID = jobID
		if info.Status == StatusCompleted && info.OutputFileID == "" {
			info.OutputFileID = m.synthesizeOutput(jobID)
		}
		return info, nil
	}

	job, ok := m.jobs[jobID]
	if !ok {
		return JobInfo{}, fmt.Errorf("mock: unknown job %s", jobID)
	}
	n := countLines(m.uploads[job.inputFileID])
	return JobInfo{
		ID:           jobID,
		Status:       StatusCompleted,
		Counts:       RequestCounts{Total: n, Completed: n},
		OutputFileID: m.synthesizeOutput(jobID),
	}, nil
}

func (m *MockService) FileContent(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Downloads++
	if content, ok := m.files[fileID]; ok {
		return append([]byte(nil), content...), nil
	}
	if content, ok := m.uploads[fileID]; ok {
		return append([]byte(nil), content...), nil
	}
	return nil, fmt.Errorf("mock: unknown file %s", fileID)
}

// synthesizeOutput fabricates the result file for a job from its input
// payload. Callers hold the lock.
func (m *MockService) synthesizeOutput(jobID string) string {
	if id, ok := m.outputs[jobID]; ok {
		return id
	}

	job := m.jobs[jobID]
	var buf bytes.Buffer
	n := 0
	for _, raw := range bytes.Split(m.uploads[job.inputFileID], []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		ord := n
		n++

		var env struct {
			CustomID string `json:"custom_id"`
		}
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		if m.OmitNth[ord] {
			continue
		}

		out := mockOutputLine{ID: fmt.Sprintf("%s-result-%d", jobID, ord), CustomID: env.CustomID}
		if m.FailNth[ord] {
			out.Error = &resultError{Code: "mock_error", Message: "scripted failure"}
		} else {
			body, _ := json.Marshal(map[string]any{
				"choices": []any{
					map[string]any{"message": map[string]string{
						"content": "mock response for " + env.CustomID,
					}},
				},
				"usage": map[string]int{
					"prompt_tokens":     10,
					"completion_tokens": 5,
					"total_tokens":      15,
				},
			})
			out.Response = &mockOutputResponse{StatusCode: 200, Body: body}
		}
		encoded, _ := json.Marshal(out)
		buf.Write(encoded)
		buf.WriteByte('\n')
	}

	m.nFiles++
	id := fmt.Sprintf("mockfile-%d", m.nFiles)
	m.files[id] = buf.Bytes()
	m.outputs[jobID] = id
	return id
}

type mockOutputLine struct {
	ID       string              `json:"id"`
	CustomID string              `json:"custom_id"`
	Response *mockOutputResponse `json:"response,omitempty"`
	Error    *resultError        `json:"error,omitempty"`
}

type mockOutputResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func countLines(payload []byte) int {
	n := 0
	for _, raw := range bytes.Split(payload, []byte("\n")) {
		if len(bytes.TrimSpace(raw)) > 0 {
			n++
		}
	}
	return n
}

var _ Service = (*MockService)(nil)
