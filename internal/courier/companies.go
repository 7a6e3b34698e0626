package courier

// AutoDetect asks the upstream API to identify the carrier from the
// tracking number itself.
const AutoDetect = "auto"

// SupportedCompanies maps carrier codes accepted by the upstream API to
// display names.
func SupportedCompanies() map[string]string {
	return map[string]string{
		AutoDetect:      "Auto detect",
		"shunfeng":      "SF Express",
		"ems":           "EMS",
		"shentong":      "STO Express",
		"yuantong":      "YTO Express",
		"yunda":         "Yunda Express",
		"zhongtong":     "ZTO Express",
		"huitongkuaidi": "Best Express",
		"jingdong":      "JD Logistics",
		"debangwuliu":   "Deppon Express",
		"zhaijisong":    "ZJS Express",
		"fedex":         "FedEx",
		"ups":           "UPS",
		"dhl":           "DHL",
	}
}
