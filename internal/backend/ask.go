package backend

// AskRequest represents the request body for the NutriAI /ask endpoint
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse represents the response from the NutriAI /ask endpoint.
// Answer is a pointer so a missing field can be told apart from an empty one.
type AskResponse struct {
	Answer *string `json:"answer"`
}
