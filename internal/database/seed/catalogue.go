// Package seed provides a demo catalogue for a fresh store.
package seed

// Locations are the store shelves items are spread over.
var Locations = []string{
	"Store A - Shelf 1", "Store A - Shelf 2", "Store A - Shelf 3",
	"Store B - Shelf 1", "Store B - Shelf 2", "Cage C - Bay 1",
}

// CatalogueItem is one demo inventory item. Base is the typical stock held;
// the generated total varies around it.
type CatalogueItem struct {
	Code        string
	Name        string
	Category    string
	Description string
	UnitPrice   string
	Base        int
}

// Catalogue defines the demo inventory items.
var Catalogue = []CatalogueItem{
	// Stationery
	{"ST-A4-001", "A4 Paper (ream)", "Stationery", "80gsm white copier paper, 500 sheets", "4.50", 200},
	{"ST-A3-001", "A3 Paper (ream)", "Stationery", "80gsm white paper, 500 sheets", "9.80", 30},
	{"ST-PEN-001", "Ballpoint Pen (blue)", "Stationery", "Medium point, box of 50", "6.25", 40},
	{"ST-PEN-002", "Ballpoint Pen (black)", "Stationery", "Medium point, box of 50", "6.25", 40},
	{"ST-HLT-001", "Highlighter Set", "Stationery", "Four colour chisel tip set", "3.10", 25},
	{"ST-STP-001", "Stapler", "Stationery", "Full strip desktop stapler", "7.95", 12},
	{"ST-STP-002", "Staples 26/6", "Stationery", "Box of 5000", "1.40", 60},
	{"ST-ENV-001", "Envelopes DL", "Stationery", "Self seal, box of 500", "11.60", 20},
	{"ST-FLD-001", "Lever Arch File", "Stationery", "A4, 75mm spine", "2.35", 80},
	{"ST-NTP-001", "Notepad A5", "Stationery", "Ruled, 80 sheets", "0.95", 150},
	{"ST-STK-001", "Sticky Notes", "Stationery", "76x76mm, pack of 12 pads", "4.80", 35},

	// Cleaning
	{"CL-DET-001", "Multi-surface Cleaner", "Cleaning", "5 litre concentrate", "8.40", 24},
	{"CL-BLE-001", "Bleach", "Cleaning", "5 litre thick bleach", "5.20", 18},
	{"CL-TWL-001", "Paper Towels", "Cleaning", "Case of 24 rolls", "19.99", 30},
	{"CL-TIS-001", "Toilet Tissue", "Cleaning", "Case of 36 rolls", "21.50", 40},
	{"CL-BAG-001", "Refuse Sacks", "Cleaning", "Heavy duty, roll of 50", "6.70", 50},
	{"CL-SOP-001", "Hand Soap", "Cleaning", "5 litre refill", "9.30", 16},
	{"CL-MOP-001", "Mop Head", "Cleaning", "Cotton kentucky mop head", "3.60", 10},

	// IT consumables
	{"IT-TN-001", "Toner Cartridge (black)", "IT Consumables", "High yield laser toner", "45.50", 15},
	{"IT-TN-002", "Toner Cartridge (colour set)", "IT Consumables", "Cyan, magenta, yellow", "118.00", 6},
	{"IT-USB-001", "USB Flash Drive 32GB", "IT Consumables", "USB 3.0", "6.90", 25},
	{"IT-MSE-001", "Wired Mouse", "IT Consumables", "Optical, USB", "8.75", 20},
	{"IT-KBD-001", "Wired Keyboard", "IT Consumables", "UK layout, USB", "14.20", 12},
	{"IT-CBL-001", "HDMI Cable 2m", "IT Consumables", "High speed with ethernet", "4.30", 30},
	{"IT-BAT-001", "AA Batteries", "IT Consumables", "Alkaline, pack of 24", "9.60", 20},

	// PPE
	{"PP-GLV-001", "Nitrile Gloves (M)", "PPE", "Powder free, box of 100", "7.10", 40},
	{"PP-GLV-002", "Nitrile Gloves (L)", "PPE", "Powder free, box of 100", "7.10", 40},
	{"PP-MSK-001", "Face Masks", "PPE", "Type IIR, box of 50", "5.50", 30},
	{"PP-VIS-001", "Hi-vis Vest", "PPE", "EN ISO 20471 class 2", "3.25", 20},
	{"PP-GOG-001", "Safety Goggles", "PPE", "Anti-fog, indirect vent", "4.90", 10},
	{"PP-HAT-001", "Hard Hat", "PPE", "Vented, white", "11.40", 8},
}
