package telegram

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/corvusec/magpie/pkg/types"
)

// documentFromMessage returns the document payload of a channel message,
// or false for text posts, photos, polls and other non-document media.
func documentFromMessage(msg *tg.Message) (*tg.Document, bool) {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, false
	}
	docClass, ok := media.GetDocument()
	if !ok {
		return nil, false
	}
	return docClass.AsNotEmpty()
}

// eventFromDocument builds the queue descriptor for one posted document.
func eventFromDocument(channelID int64, channelTitle string, msg *tg.Message, doc *tg.Document) types.DocumentEvent {
	return types.DocumentEvent{
		Ref: types.ExternalRef{
			ChannelID:  channelID,
			MessageID:  msg.ID,
			DocumentID: doc.ID,
		},
		ChannelTitle: channelTitle,
		Filename:     documentFilename(doc),
		SizeBytes:    doc.Size,
		MimeType:     doc.MimeType,
		SentAt:       time.Unix(int64(msg.Date), 0).UTC(),
	}
}

// documentFilename extracts the posted filename reduced to a bare
// basename. Unnamed documents get a synthetic name from the document ID.
func documentFilename(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		fn, ok := attr.(*tg.DocumentAttributeFilename)
		if !ok {
			continue
		}
		name := path.Base(strings.ReplaceAll(fn.FileName, `\`, "/"))
		if name != "" && name != "." && name != ".." && name != "/" {
			return name
		}
	}
	return fmt.Sprintf("unnamed_%d", doc.ID)
}
