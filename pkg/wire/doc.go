/*
Package wire defines the messages exchanged between a pool and its worker
processes and the newline-delimited JSON codec that carries them.

A controller sends three kinds of Request on a worker's stdin:

	{"jobId":3,"fnSource":"resize","perItem":true}      register work for job 3
	{"jobId":3,"index":8,"itemChunk":[...]}             run items 8.. of job 3
	{"jobId":3,"deregisterJob":true}                    forget job 3

and reads Responses from its stdout:

	{"jobId":3,"index":8,"result":...,"jobDone":false}  one item (timed jobs)
	{"jobId":3,"index":8,"resultList":[...],"jobDone":true}
	{"jobId":3,"error":"boom","stack":"...","jobDone":true}

Values decoded into an untyped destination have strings shaped like
2006-01-02T15:04:05.000Z revived into time.Time. Encode writes time.Time
values found in untyped containers in that same shape so dates round-trip.
*/
package wire
