package v0

// Response is a generic wrapper for Huma responses.
// Usage: Response[HealthBody] instead of a dedicated HealthOutput type.
type Response[T any] struct {
	Body T
}
