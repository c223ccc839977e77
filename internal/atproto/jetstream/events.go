package jetstream

import "context"

// JetstreamEvent is one message from the Jetstream firehose
type JetstreamEvent struct {
	Commit   *CommitEvent   `json:"commit,omitempty"`
	Account  *AccountEvent  `json:"account,omitempty"`
	Identity *IdentityEvent `json:"identity,omitempty"`
	Did      string         `json:"did"`
	Kind     string         `json:"kind"` // "account", "commit", "identity"
	TimeUS   int64          `json:"time_us"`
}

// CommitEvent is a repository write. Record is absent for deletes.
type CommitEvent struct {
	Record     map[string]interface{} `json:"record,omitempty"`
	Rev        string                 `json:"rev"`
	Operation  string                 `json:"operation"` // "create", "update", "delete"
	Collection string                 `json:"collection"`
	RKey       string                 `json:"rkey"`
	CID        string                 `json:"cid,omitempty"`
}

type AccountEvent struct {
	Did    string `json:"did"`
	Time   string `json:"time"`
	Seq    int64  `json:"seq"`
	Active bool   `json:"active"`
}

type IdentityEvent struct {
	Did    string `json:"did"`
	Handle string `json:"handle"`
	Time   string `json:"time"`
	Seq    int64  `json:"seq"`
}

// EventHandler consumes decoded firehose events
type EventHandler interface {
	HandleEvent(ctx context.Context, event *JetstreamEvent) error
}
