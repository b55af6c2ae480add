// Package application contém o caso de uso de coalescência e throttling de
// requisições por chave.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Coalescer.Execute(ctx, key, action) dispara a action no máximo uma vez por
// vez para cada key e compartilha o resultado com quem chegar enquanto ela roda.
package application
