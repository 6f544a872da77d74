package schema

// VerbInfo describes a verb attached to a wob.
type VerbInfo struct {
	Name string   `json:"name"`
	Sigs []string `json:"sigs,omitempty"`
}

// PropertyInfo describes a property attached to a wob.
type PropertyInfo struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
	Blob  bool   `json:"blob,omitempty"`
}

// WobInfo is the envelope returned by the wob info endpoint.
type WobInfo struct {
	Success    bool           `json:"success"`
	ID         WobID          `json:"id"`
	Name       string         `json:"name"`
	Desc       string         `json:"desc"`
	Verbs      []VerbInfo     `json:"verbs"`
	Properties []PropertyInfo `json:"properties"`
	Error      string         `json:"error,omitempty"`
}

// VerbNames returns the names of all verbs on the wob.
func (w WobInfo) VerbNames() []string {
	if len(w.Verbs) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.Verbs))
	for _, verb := range w.Verbs {
		out = append(out, verb.Name)
	}
	return out
}

// Location is the envelope returned by the location endpoint: the player's
// current room and everything visible in it, used for autocompletion.
type Location struct {
	Success  bool       `json:"success"`
	ID       WobID      `json:"id"`
	Name     string     `json:"name"`
	Contents []WobInfo  `json:"contents"`
	Verbs    []VerbInfo `json:"verbs"`
	Error    string     `json:"error,omitempty"`
}

// LoginRequest is posted to the login endpoint.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for subsequent requests.
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   Token  `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Blob is a binary property fetched from the server.
type Blob struct {
	ContentType string
	Data        []byte
}
