package pipeline

import (
	"math"
	"strconv"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// retryAfter arredonda para cima: Retry-After só aceita segundos inteiros e
// arredondar para baixo faria o cliente voltar cedo demais.
func retryAfter(seconds float64) string {
	s := int(math.Ceil(seconds))
	if s < 1 {
		s = 1
	}
	return formatInt(s)
}

// remaining é o número de requisições inteiras ainda disponíveis no bucket.
func remaining(tokens float64) string {
	if tokens < 0 {
		tokens = 0
	}
	return formatInt(int(math.Floor(tokens)))
}
