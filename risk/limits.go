package risk

// 资金分层阈值与对应的敞口上限。账户越小允许的敞口比例越高，
// 否则在最低下单额的约束下小账户根本铺不开网格。
const (
	microCapitalLimit = 500.0
	smallCapitalLimit = 1000.0

	microExposureLimit  = 0.90
	smallExposureLimit  = 0.85
	normalExposureLimit = 0.80
)

// 小账户单笔下限：确保每一笔都有意义，而不是被手续费吃掉。
const (
	tinyCapitalLimit   = 300.0
	tinyPositionFloor  = 0.015
	smallPositionFloor = 0.005
)

// drawdownHaltFraction 最大回撤熔断阈值，占配置本金的比例。
const drawdownHaltFraction = 0.15

// exposureLimitFor 返回该有效本金档位允许的最大总敞口。
func exposureLimitFor(capital float64) float64 {
	switch {
	case capital < microCapitalLimit:
		return capital * microExposureLimit
	case capital < smallCapitalLimit:
		return capital * smallExposureLimit
	default:
		return capital * normalExposureLimit
	}
}
