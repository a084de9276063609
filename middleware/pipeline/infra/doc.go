// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Store: token bucket por chave (golang.org/x/time/rate), particionado por xxhash
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore / PrometheusStats: estatísticas de admissão
//   - JWTVerifier: domain.Verifier para tokens HMAC (golang-jwt)
package infra
