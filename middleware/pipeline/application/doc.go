// Package application contém os casos de uso do pipeline de admissão:
// identidade, rate limit, autenticação, validação, tradução de erros,
// desligamento e a orquestração dos estágios (Pipeline.Handle).
//
// Ele depende apenas do pacote domain; de net/http usa só as constantes de status.
package application
