package port

// TokenCounter estimates how many model tokens a text costs.
type TokenCounter interface {
	CountTokens(text string) int
}
