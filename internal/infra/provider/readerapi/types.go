package readerapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stream and state identifiers.
const (
	streamReadingList = "user/-/state/com.google/reading-list"
	stateRead         = "user/-/state/com.google/read"
	stateStarred      = "user/-/state/com.google/starred"

	labelPrefix  = "user/-/label/"
	itemIDPrefix = "tag:google.com,2005:reader/item/"
)

// API paths relative to the account endpoint.
const (
	pathLogin            = "/accounts/ClientLogin"
	pathToken            = "/reader/api/0/token"
	pathRenameTag        = "/reader/api/0/rename-tag"
	pathDisableTag       = "/reader/api/0/disable-tag"
	pathTagList          = "/reader/api/0/tag/list"
	pathSubscriptionList = "/reader/api/0/subscription/list"
	pathSubscriptionEdit = "/reader/api/0/subscription/edit"
	pathQuickAdd         = "/reader/api/0/subscription/quickadd"
	pathContents         = "/reader/api/0/stream/items/contents"
	pathItemIDs          = "/reader/api/0/stream/items/ids"
	pathEditTag          = "/reader/api/0/edit-tag"
)

// streamContentsResponse is the body of stream/items/contents. Items are
// decoded one by one so a malformed item does not lose the whole page.
type streamContentsResponse struct {
	Direction    string            `json:"direction"`
	ID           string            `json:"id"`
	Updated      int64             `json:"updated"`
	Items        []json.RawMessage `json:"items"`
	Continuation string            `json:"continuation"`
}

type articleItem struct {
	ID            string   `json:"id"`
	CrawlTimeMsec string   `json:"crawlTimeMsec"`
	TimestampUsec string   `json:"timestampUsec"`
	Categories    []string `json:"categories"`
	Title         string   `json:"title"`
	Published     int64    `json:"published"`
	Updated       int64    `json:"updated"`
	Canonical     []link   `json:"canonical"`
	Alternate     []link   `json:"alternate"`
	Summary       *content `json:"summary"`
	Content       *content `json:"content"`
	Author        string   `json:"author"`
	Origin        origin   `json:"origin"`
}

type link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type content struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
}

type origin struct {
	StreamID string `json:"streamId"`
	Title    string `json:"title"`
	HTMLURL  string `json:"htmlUrl"`
}

func (a *articleItem) hasCategory(state string) bool {
	for _, c := range a.Categories {
		if c == state || strings.HasSuffix(c, strings.TrimPrefix(state, "user/-")) {
			return true
		}
	}
	return false
}

// itemIDsResponse is the body of stream/items/ids.
type itemIDsResponse struct {
	ItemRefs []struct {
		ID              string   `json:"id"`
		DirectStreamIDs []string `json:"directStreamIds"`
		TimestampUsec   string   `json:"timestampUsec"`
	} `json:"itemRefs"`
	Continuation string `json:"continuation"`
}

type subscriptionListResponse struct {
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Categories []category `json:"categories"`
	URL        string     `json:"url"`
	HTMLURL    string     `json:"htmlUrl"`
	IconURL    string     `json:"iconUrl"`
}

type category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type tagListResponse struct {
	Tags []tag `json:"tags"`
}

type tag struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type quickAddResponse struct {
	NumResults int    `json:"numResults"`
	Query      string `json:"query"`
	StreamID   string `json:"streamId"`
	StreamName string `json:"streamName"`
}

// isFolder reports whether a tag is a folder label rather than a state.
func (t tag) isFolder() bool {
	if t.Type != "" {
		return t.Type == "folder"
	}
	return strings.Contains(t.ID, "/label/")
}

// labelName returns "Tech" for "user/1234/label/Tech".
func labelName(id string) string {
	if i := strings.Index(id, "/label/"); i >= 0 {
		return id[i+len("/label/"):]
	}
	return id
}

// articleID converts an item ID to the decimal form used as article ID.
// Both the long form ("tag:google.com,2005:reader/item/000000000000001f")
// and the short decimal form returned by stream/items/ids are accepted.
func articleID(itemID string) (string, error) {
	if hex, ok := strings.CutPrefix(itemID, itemIDPrefix); ok {
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return "", fmt.Errorf("item id %q: %w", itemID, err)
		}
		return strconv.FormatInt(int64(v), 10), nil
	}
	if _, err := strconv.ParseInt(itemID, 10, 64); err != nil {
		return "", fmt.Errorf("item id %q: %w", itemID, err)
	}
	return itemID, nil
}

// longItemID converts a decimal article ID to the long item form.
func longItemID(articleID string) (string, error) {
	v, err := strconv.ParseInt(articleID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("article id %q: %w", articleID, err)
	}
	return fmt.Sprintf("%s%016x", itemIDPrefix, uint64(v)), nil
}
