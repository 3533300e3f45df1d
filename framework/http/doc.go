// Package http provides small request and response helpers for JSON
// endpoints.
//
// # Request
//
//	req := gohttp.NewRequest(r)
//
//	name   := req.RouteParam("name")         // chi route param
//	states := req.QueryList("state")         // ?state=valid,waiting
//	kind   := req.Query("lifestyle")         // ?lifestyle=pooled
//	full   := req.QueryBool("verbose", false) // ?verbose=true
//
// # Response
//
//	res := gohttp.NewResponse(w)
//
//	res.Success(v)                 // 200 {"data": v}
//	res.NotFound("")               // 404 {"message": "Not found."}
//	res.Error(409, "waiting", gohttp.Envelope{"code": "dependency_unsatisfied"})
//	res.ServiceUnavailable(report) // 503 {"data": report}
package http
