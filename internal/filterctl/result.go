package filterctl

import (
	"fmt"

	"github.com/nhle/filterctl/internal/filterset"
)

// Where a result's dataset came from.
const (
	SourceCache  = "cache"
	SourceServer = "server"
	SourceLocal  = "local"
)

// Result is the uniform envelope returned by every controller operation.
type Result struct {
	Success   bool                    `json:"success"`
	Message   string                  `json:"message"`
	AccountID string                  `json:"accountId"`
	Kind      filterset.Kind          `json:"kind"`
	Classes   *filterset.ClassesReply `json:"classes,omitempty"`
	Books     *filterset.BooksReply   `json:"books,omitempty"`
	Valid     bool                    `json:"valid"`
	Dirty     bool                    `json:"dirty"`
	Source    string                  `json:"source,omitempty"`

	// ServerClasses and ServerBooks hold the last server-confirmed dataset
	// when the result carries a dirty edit.
	ServerClasses *filterset.ClassesReply `json:"serverClasses,omitempty"`
	ServerBooks   *filterset.BooksReply   `json:"serverBooks,omitempty"`

	dataset filterset.Dataset
}

// Dataset returns a copy of the dataset carried by the result, or nil.
func (r Result) Dataset() filterset.Dataset {
	if r.dataset == nil {
		return nil
	}
	return r.dataset.Clone()
}

// SendAllResult lists the outcome for every account SendAll touched.
type SendAllResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Results []Result `json:"results"`
}

func newResult(kind filterset.Kind, accountID string, ds filterset.Dataset, dirty bool, source string) Result {
	r := Result{
		Success:   true,
		AccountID: accountID,
		Kind:      kind,
		Dirty:     dirty,
		Source:    source,
	}
	if ds == nil {
		return r
	}
	r.dataset = ds.Clone()
	r.Valid = ds.Valid()
	switch rendered := ds.Render().(type) {
	case filterset.ClassesReply:
		r.Classes = &rendered
	case filterset.BooksReply:
		r.Books = &rendered
	}
	return r
}

func failure(kind filterset.Kind, accountID string, format string, args ...any) Result {
	return Result{
		Success:   false,
		Message:   fmt.Sprintf(format, args...),
		AccountID: accountID,
		Kind:      kind,
	}
}

func (r *Result) attachServer(ds filterset.Dataset) {
	switch rendered := ds.Render().(type) {
	case filterset.ClassesReply:
		r.ServerClasses = &rendered
	case filterset.BooksReply:
		r.ServerBooks = &rendered
	}
}
