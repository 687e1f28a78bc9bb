package api

// 文档注释：国家查询返回结构（对外）
// 约束：points 与请求坐标一一对应；不属于任何国家时 country 为 "unknown"
type countryResult struct {
	Points []countryPoint `json:"points"`
}

type countryPoint struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

type errorResult struct {
	Error string `json:"error"`
}
