package domain

import (
	"encoding/json"
	"fmt"
)

// ItemType tags the variant of a RelayItem.
type ItemType string

const (
	ItemText       ItemType = "text"
	ItemAttachment ItemType = "attachment"
)

// RelayItem is one unit of work destined for the output platform: either a
// text message or an attachment URL with a caption. Items are immutable once
// enqueued.
type RelayItem struct {
	Type    ItemType
	Content string // text only
	URL     string // attachment only
	Caption string // attachment only
}

func NewText(content string) RelayItem {
	return RelayItem{Type: ItemText, Content: content}
}

func NewAttachment(url, caption string) RelayItem {
	return RelayItem{Type: ItemAttachment, URL: url, Caption: caption}
}

// Validate reports whether the item has a known shape.
func (it RelayItem) Validate() error {
	switch it.Type {
	case ItemText:
		return nil
	case ItemAttachment:
		if it.URL == "" {
			return fmt.Errorf("%w: attachment without url", ErrMalformedItem)
		}
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedItem)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedItem, it.Type)
	}
}

// wire shapes, one per variant
type textWire struct {
	Type    ItemType `json:"type"`
	Content string   `json:"content"`
}

type attachmentWire struct {
	Type    ItemType `json:"type"`
	URL     string   `json:"url"`
	Caption string   `json:"caption"`
}

func (it RelayItem) MarshalJSON() ([]byte, error) {
	switch it.Type {
	case ItemText:
		return json.Marshal(textWire{Type: ItemText, Content: it.Content})
	case ItemAttachment:
		return json.Marshal(attachmentWire{Type: ItemAttachment, URL: it.URL, Caption: it.Caption})
	default:
		return nil, it.Validate()
	}
}

func (it *RelayItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    ItemType `json:"type"`
		Content *string  `json:"content"`
		URL     *string  `json:"url"`
		Caption *string  `json:"caption"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}

	var out RelayItem
	switch raw.Type {
	case ItemText:
		if raw.Content == nil {
			return fmt.Errorf("%w: text without content", ErrMalformedItem)
		}
		out = NewText(*raw.Content)
	case ItemAttachment:
		if raw.URL == nil {
			return fmt.Errorf("%w: attachment without url", ErrMalformedItem)
		}
		caption := ""
		if raw.Caption != nil {
			caption = *raw.Caption
		}
		out = NewAttachment(*raw.URL, caption)
	default:
		out = RelayItem{Type: raw.Type}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*it = out
	return nil
}

// String summarizes the item for logs without dumping message bodies.
func (it RelayItem) String() string {
	switch it.Type {
	case ItemText:
		return fmt.Sprintf("text(%d bytes)", len(it.Content))
	case ItemAttachment:
		return fmt.Sprintf("attachment(%s)", it.URL)
	default:
		return fmt.Sprintf("invalid(%q)", it.Type)
	}
}
