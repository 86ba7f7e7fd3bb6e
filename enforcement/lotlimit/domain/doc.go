// Package domain define contratos e tipos do domínio de limite de lotes por participante.
//
// Este pacote não depende de Redis, Postgres nem de net/http.
// A intenção é permitir testes de unidade puros das regras (avaliação de limite,
// máquina de suspensão) e desacoplar essas regras dos detalhes de infraestrutura.
package domain
