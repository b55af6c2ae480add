// Package coalesce fornece adapters HTTP (net/http) para coalescência e throttling
// de requisições por chave de endpoint.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: o Coalescer (chamada pendente compartilhada + intervalo mínimo por key)
//   - infra: relógios, stores de estatística, transport com teto global de rps
//   - coalesce (este pacote): middleware HTTP + extração de chave + replay da resposta
//
// Fluxo no gateway:
//
//   1) Extrai a chave da requisição (método + path [+ query] [+ partição])
//   2) Se o método é coalescível, chama Coalescer.Execute com o handler seguinte como action
//   3) Todos os chamadores coalescidos recebem o mesmo status, headers e body
//   4) Escritas bem sucedidas podem registrar a key de leitura correspondente (RegisterWrites)
//
// Configuração do binário gateway (cmd/gateway) via flags, arquivo YAML ou
// variáveis GATEWAY_*, como GATEWAY_COALESCE_MIN_INTERVAL e GATEWAY_UPSTREAM_URL.
package coalesce
