package headless

import "bytes"

// NeedsRendering reports whether a page is likely a client-rendered shell:
// it carries a <script> tag, yet its parsed (post-extraction) content is too
// thin to have come from anything but JavaScript filling the DOM in later.
// fetchengine's HTTP-tier escalation consults this regardless of any
// protection signal, since a bare SPA shell isn't a blocking response — it's
// just empty until rendered.
func NeedsRendering(rawHTML []byte, parsedContent []byte) bool {
	if len(rawHTML) == 0 {
		return false
	}

	if !bytes.Contains(rawHTML, []byte("<script")) {
		return false
	}

	contentLen := len(bytes.TrimSpace(parsedContent))
	if contentLen >= 200 {
		return false
	}

	return true
}
