package codepipeline

// ClientTokenProvider looks up the client token of a third-party client id.
// Third-party job APIs require it on every call after polling.
type ClientTokenProvider interface {
	ClientToken(clientID string) string
}

// StaticClientTokenProvider returns the same token for every client
type StaticClientTokenProvider string

// ClientToken implements ClientTokenProvider
func (p StaticClientTokenProvider) ClientToken(string) string {
	return string(p)
}

// MapClientTokenProvider looks tokens up by client id and falls back to Default
type MapClientTokenProvider struct {
	Tokens  map[string]string
	Default string
}

// ClientToken implements ClientTokenProvider
func (p *MapClientTokenProvider) ClientToken(clientID string) string {
	if token, ok := p.Tokens[clientID]; ok {
		return token
	}
	return p.Default
}
