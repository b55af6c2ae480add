package coalesce

import (
	"bytes"
	"net/http"
	"strconv"
)

// CapturedResponse é a resposta do handler seguinte, guardada para replay.
// Depois de capturada é só leitura: vários chamadores fazem replay dela ao mesmo tempo.
type CapturedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// UpstreamError é a falha de uma requisição coalescida que chegou a ter resposta (status >= 500).
// Quem estava coalescido recebe a mesma resposta, e a vaga da key é liberada na hora.
type UpstreamError struct {
	Response *CapturedResponse
}

func (e *UpstreamError) Error() string {
	return "upstream responded with status " + strconv.Itoa(e.Response.Status)
}

type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

func (r *recorder) result() *CapturedResponse {
	status := r.status
	if !r.wroteHeader {
		status = http.StatusOK
	}
	return &CapturedResponse{
		Status: status,
		Header: r.header.Clone(),
		Body:   r.body.Bytes(),
	}
}

// writeTo faz o replay; mark, se não vazio, vai no header X-Coalesce.
func (c *CapturedResponse) writeTo(w http.ResponseWriter, mark string) {
	dst := w.Header()
	for k, vv := range c.Header {
		dst[k] = append([]string(nil), vv...)
	}
	if mark != "" {
		dst.Set(HeaderCoalesce, mark)
	}
	w.WriteHeader(c.Status)
	_, _ = w.Write(c.Body)
}

// statusWriter só observa o status de uma resposta que passa direto.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
