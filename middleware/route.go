package middleware

import (
	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	IsAuth bool
}

// Routes registers handlers, prefixing authenticated ones with Auth.
type Routes struct {
	R    gin.IRoutes
	Auth gin.HandlerFunc
}

func (rt Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && rt.Auth != nil {
		return []gin.HandlerFunc{rt.Auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

func (rt Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.POST(path, rt.chain(handler, opt)...)
}

func (rt Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.GET(path, rt.chain(handler, opt)...)
}

func (rt Routes) PUT(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.PUT(path, rt.chain(handler, opt)...)
}

func (rt Routes) DELETE(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.DELETE(path, rt.chain(handler, opt)...)
}
