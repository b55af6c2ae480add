// Package domain define contratos e tipos de domínio para coalescência e throttling
// de requisições por chave de endpoint.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Relógio, timers e persistência de estatísticas são contratos para que a
// camada application possa ser testada com tempo virtual.
package domain
