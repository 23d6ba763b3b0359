package manuscript

import (
	"fmt"
	"net/http"
)

var idStatus = map[string]int{
	ErrorID:      http.StatusNotFound,
	DisallowedID: http.StatusBadRequest,
}

var stateStatus = map[State]int{
	StateDone:       http.StatusOK,
	StateGenerating: http.StatusTooEarly,
	StateError:      http.StatusNotFound,
	StateDisallowed: http.StatusBadRequest,
}

// HTTPStatus maps a manuscript to the status code article pages are served
// with.
func HTTPStatus(m Manuscript) int {
	if code, ok := idStatus[m.ID]; ok {
		return code
	}
	if code, ok := stateStatus[m.State]; ok {
		return code
	}
	return http.StatusNotFound
}

const attribution = " All content of this article is the original work of Profound Decisions and can be found on the Empire wikipedia."

// OutroText is the closing sentence synthesized after every manuscript.
func OutroText(voiceName, id string) string {
	text := fmt.Sprintf(`This article was read aloud by the artificial voice, "%s".`, voiceName)
	if !IsSystem(id) {
		text += attribution
	}
	return text + " Thank you for listening."
}
