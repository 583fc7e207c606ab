package tracking

import (
	"fmt"
	"strings"
)

// InjectTracking rewrites the email body for engagement tracking: every
// href (except mailto: links) is pointed at the click-redirect endpoint,
// and an invisible 1x1 pixel is appended for open tracking.
func (t *Tokenizer) InjectTracking(html, baseURL string, campaignID, contactID uint) string {
	rewritten := t.rewriteLinks(html, baseURL, campaignID, contactID)

	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`,
		t.PixelURL(baseURL, campaignID, contactID))

	return rewritten + pixel
}

// rewriteLinks scans for href attributes and swaps each destination for a
// tracked redirect. String scanning keeps us independent of an HTML parser;
// the offset always moves past the rewritten URL so a replacement can never
// be rescanned.
func (t *Tokenizer) rewriteLinks(html, baseURL string, campaignID, contactID uint) string {
	const startTag = `href="`
	const endTag = `"`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		original := html[startIdx:endIdx]
		if strings.HasPrefix(original, "mailto:") {
			offset = endIdx + 1
			continue
		}

		tracked := t.ClickURL(baseURL, campaignID, contactID, original)
		html = html[:startIdx] + tracked + html[endIdx:]
		offset = startIdx + len(tracked)
	}

	return html
}
