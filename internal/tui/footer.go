package tui

// renderFooter renders the last node action outcome, if any, above the key
// binding hint. When app.showHelp is true, shows all key bindings.
func renderFooter(app *App) string {
	width := app.width
	if width <= 0 {
		width = 80
	}
	text := "? for help"
	if app.showHelp {
		text = helpText
	}
	hint := StyleDim.Width(width).Render(text)
	if app.status == "" {
		return hint
	}
	style := StyleGreen
	if app.statusErr {
		style = StyleError
	}
	return style.Width(width).Render(sanitize(app.status)) + "\n" + hint
}
