// Package pipeline fornece o adapter HTTP (net/http + chi) do pipeline de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: estágios (rate limit, auth, validação), tradução de erros,
//     coordenador de desligamento e a orquestração (Pipeline.Handle)
//   - infra: implementações concretas (token bucket sharded, semáforo, JWT,
//     stats em memória/Redis/Prometheus)
//   - pipeline (este pacote): converte *http.Request em domain.Request e
//     serializa o domain.Response (envelope JSON + headers)
//
// Fluxo no gateway:
//
//  1. ConcurrencyMiddleware limita requisições simultâneas (503 se ocupado)
//  2. Handler converte a requisição e chama Pipeline.Handle
//  3. O envelope volta como JSON com Retry-After, X-Request-ID e X-RateLimit-*
//
// O binário cmd/gateway monta as rotas a partir de um arquivo TOML; veja
// cmd/gateway/config.go para as variáveis de ambiente aceitas.
package pipeline
