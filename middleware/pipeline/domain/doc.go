// Package domain define contratos e tipos de domínio do pipeline de admissão.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Aqui ficam: identidade do cliente e decisão de rate limit, principal
// autenticado, schema de validação e violações, envelopes de resposta,
// taxonomia de falhas e estado de shutdown.
package domain
