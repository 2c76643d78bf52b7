package models

// Placemark is a user-saved location as returned by the placemark API.
type Placemark struct {
	ID           string  `json:"_id"`
	Name         string  `json:"name"`
	CategoryName string  `json:"categoryName"`
	Description  string  `json:"description,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Img          string  `json:"img,omitempty"`
}
