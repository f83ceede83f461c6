package runner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ubuygold/stockmeta/internal/model"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// KindNoEligibleCredential is recorded on items failed before any call was made.
const KindNoEligibleCredential = "no_eligible_credential"

var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrItemBusy     = errors.New("queue item is being processed")
	ErrItemNotDone  = errors.New("queue item has no result yet")
	ErrQueueFull    = errors.New("queue is full")
)

// Item is one file or text description awaiting metadata.
type Item struct {
	ID              string                `json:"id"`
	FileName        string                `json:"fileName"`
	MIMEType        string                `json:"mimeType,omitempty"`
	Size            int64                 `json:"size"`
	Text            string                `json:"text,omitempty"`
	Status          Status                `json:"status"`
	Result          *model.MetadataResult `json:"result,omitempty"`
	Error           string                `json:"error,omitempty"`
	ErrorKind       string                `json:"errorKind,omitempty"`
	CredentialLabel string                `json:"credentialLabel,omitempty"`
	UpdatedAt       time.Time             `json:"updatedAt"`

	data []byte
}

// runnable reports whether the item may be picked up by a run.
func (it *Item) runnable() bool {
	return it.Status == StatusPending || it.Status == StatusError
}

func (it *Item) snapshot() Item {
	out := *it
	out.data = nil
	if it.Result != nil {
		r := *it.Result
		r.Keywords = append([]string(nil), it.Result.Keywords...)
		out.Result = &r
	}
	return out
}

// Queue is one user's ordered work list. All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []*Item
	maxItems int
	now      func() time.Time
}

// NewQueue creates an empty queue holding at most maxItems items (0 means unbounded).
func NewQueue(maxItems int) *Queue {
	return &Queue{maxItems: maxItems, now: time.Now}
}

func (q *Queue) add(it *Item) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxItems > 0 && len(q.items) >= q.maxItems {
		return Item{}, ErrQueueFull
	}
	it.ID = uuid.NewString()
	it.Status = StatusPending
	it.UpdatedAt = q.now()
	q.items = append(q.items, it)
	return it.snapshot(), nil
}

// AddFile queues an uploaded file.
func (q *Queue) AddFile(fileName, mimeType string, data []byte) (Item, error) {
	if strings.TrimSpace(fileName) == "" {
		return Item{}, fmt.Errorf("file name is required")
	}
	return q.add(&Item{FileName: fileName, MIMEType: mimeType, Size: int64(len(data)), data: data})
}

// AddText queues a text description. The file name is derived from the text and
// is what appears in the export.
func (q *Queue) AddText(text string) (Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, fmt.Errorf("text is required")
	}
	return q.add(&Item{FileName: textFileName(text), MIMEType: "text/plain", Size: int64(len(text)), Text: text})
}

func textFileName(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > 6 {
		words = words[:6]
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, strings.Join(words, " "))
	if name == "" {
		name = "text_prompt"
	}
	return name + ".jpg"
}

func (q *Queue) find(id string) (int, *Item) {
	for i, it := range q.items {
		if it.ID == id {
			return i, it
		}
	}
	return -1, nil
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, it := q.find(id)
	if it == nil {
		return Item{}, false
	}
	return it.snapshot(), true
}

// Items returns a snapshot of the queue in order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = it.snapshot()
	}
	return out
}

// Completed returns the done items that carry a result, in queue order.
func (q *Queue) Completed() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for _, it := range q.items {
		if it.Status == StatusDone && it.Result != nil {
			out = append(out, it.snapshot())
		}
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove deletes an item that is not being processed.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, it := q.find(id)
	if it == nil {
		return ErrItemNotFound
	}
	if it.Status == StatusProcessing {
		return ErrItemBusy
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return nil
}

// Clear removes every item and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// UpdateResult replaces the result of a done item with a user edit.
func (q *Queue) UpdateResult(id string, result model.MetadataResult) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, it := q.find(id)
	if it == nil {
		return Item{}, ErrItemNotFound
	}
	if it.Status != StatusDone {
		return Item{}, ErrItemNotDone
	}
	result.Keywords = append([]string(nil), result.Keywords...)
	it.Result = &result
	it.UpdatedAt = q.now()
	return it.snapshot(), nil
}

// runnableIDs returns the ids of pending and error items in queue order.
func (q *Queue) runnableIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, it := range q.items {
		if it.runnable() {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// claim moves a runnable item to processing and returns it with its data.
func (q *Queue) claim(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, it := q.find(id)
	if it == nil || !it.runnable() {
		return Item{}, false
	}
	it.Status = StatusProcessing
	it.Error = ""
	it.ErrorKind = ""
	it.UpdatedAt = q.now()
	out := it.snapshot()
	out.data = it.data
	return out, true
}

// reject fails a runnable item without processing it.
func (q *Queue) reject(id, message, kind string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, it := q.find(id)
	if it == nil || !it.runnable() {
		return false
	}
	it.Status = StatusError
	it.Error = message
	it.ErrorKind = kind
	it.UpdatedAt = q.now()
	return true
}

// complete records the outcome of a processing item.
func (q *Queue) complete(id string, result *model.MetadataResult, message, kind, label string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, it := q.find(id)
	if it == nil || it.Status != StatusProcessing {
		return
	}
	it.CredentialLabel = label
	it.UpdatedAt = q.now()
	if result != nil {
		it.Status = StatusDone
		it.Result = result
		it.Error = ""
		it.ErrorKind = ""
		return
	}
	it.Status = StatusError
	it.Error = message
	it.ErrorKind = kind
}

// resetForRetry makes an item runnable again. Done items go back to pending.
func (q *Queue) resetForRetry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, it := q.find(id)
	if it == nil {
		return ErrItemNotFound
	}
	switch it.Status {
	case StatusProcessing:
		return ErrItemBusy
	case StatusDone:
		it.Status = StatusPending
		it.UpdatedAt = q.now()
	}
	return nil
}
