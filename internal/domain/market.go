package domain

// Market representa un mercado de predicción binario en Polymarket.
// La identidad (condition ID, tokens, tick size, neg-risk) es inmutable;
// Enabled y Profile pueden cambiar entre refrescos de configuración.
type Market struct {
	ConditionID string
	Question    string
	YesTokenID  string
	NoTokenID   string
	TickSize    float64 // incremento mínimo de precio (0.01, 0.001, ...)
	NegRisk     bool    // usa el adapter NegRisk para merges
	Enabled     bool
	Profile     string // nombre del ParameterProfile asignado
}

// TokenIDs devuelve los dos token IDs del mercado en orden [YES, NO].
func (m Market) TokenIDs() [2]string {
	return [2]string{m.YesTokenID, m.NoTokenID}
}

// OppositeToken devuelve el token del lado contrario del mercado.
// Devuelve "" si tokenID no pertenece al mercado.
func (m Market) OppositeToken(tokenID string) string {
	switch tokenID {
	case m.YesTokenID:
		return m.NoTokenID
	case m.NoTokenID:
		return m.YesTokenID
	}
	return ""
}

// Owns devuelve true si el token pertenece a este mercado.
func (m Market) Owns(tokenID string) bool {
	return tokenID == m.YesTokenID || tokenID == m.NoTokenID
}

// Outcome devuelve "YES" o "NO" según el token, o "" si no pertenece al mercado.
func (m Market) Outcome(tokenID string) string {
	switch tokenID {
	case m.YesTokenID:
		return "YES"
	case m.NoTokenID:
		return "NO"
	}
	return ""
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
