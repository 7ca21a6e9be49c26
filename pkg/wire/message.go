package wire

import "encoding/json"

// Request is a controller to worker message.
type Request struct {
	JobID         int64           `json:"jobId"`
	ModulePath    string          `json:"modulePath,omitempty"`
	FnSource      string          `json:"fnSource,omitempty"`
	PerItem       bool            `json:"perItem,omitempty"`
	Index         int             `json:"index,omitempty"`
	ItemChunk     json.RawMessage `json:"itemChunk,omitempty"`
	DeregisterJob bool            `json:"deregisterJob,omitempty"`
}

// IsRegister reports whether r carries a work descriptor.
func (r *Request) IsRegister() bool {
	return r.ModulePath != "" || r.FnSource != ""
}

// IsRun reports whether r carries a chunk of items.
func (r *Request) IsRun() bool {
	return len(r.ItemChunk) > 0
}

// Response is a worker to controller message.
type Response struct {
	JobID      int64             `json:"jobId"`
	Index      int               `json:"index"`
	Result     json.RawMessage   `json:"result,omitempty"`
	ResultList []json.RawMessage `json:"resultList,omitempty"`
	JobDone    bool              `json:"jobDone,omitempty"`
	Error      string            `json:"error,omitempty"`
	Stack      string            `json:"stack,omitempty"`
}

// Failed reports whether the worker reported an error.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// Values returns the raw results carried by r in index order starting at
// r.Index. A bare completion marker carries none.
func (r *Response) Values() []json.RawMessage {
	if r.ResultList != nil {
		return r.ResultList
	}
	if r.Result != nil {
		return []json.RawMessage{r.Result}
	}
	return nil
}
