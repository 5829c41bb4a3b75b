package headless

// stealthScript neutralizes the DOM-visible signals headless Chrome leaves
// behind (navigator.webdriver, empty plugin list, missing window.chrome)
// that bot-protection vendors check for before falling through to active
// challenges.
const stealthScript = `
(function() {
	'use strict';

	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
		configurable: true
	});
	try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

	try {
		const mockPlugins = [
			{ name: 'Chrome PDF Plugin', description: 'Portable Document Format', filename: 'internal-pdf-viewer', length: 1 },
			{ name: 'Chrome PDF Viewer', description: '', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', length: 1 },
			{ name: 'Native Client', description: '', filename: 'internal-nacl-plugin', length: 2 }
		];
		const pluginArray = Object.create(PluginArray.prototype);
		mockPlugins.forEach((p, i) => {
			const plugin = Object.create(Plugin.prototype);
			Object.defineProperties(plugin, {
				name: { value: p.name, enumerable: true },
				description: { value: p.description, enumerable: true },
				filename: { value: p.filename, enumerable: true },
				length: { value: p.length, enumerable: true }
			});
			pluginArray[i] = plugin;
			pluginArray[p.name] = plugin;
		});
		Object.defineProperty(pluginArray, 'length', { value: mockPlugins.length });
		Object.defineProperty(navigator, 'plugins', { get: () => pluginArray, configurable: true });
	} catch (e) {}

	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
		configurable: true
	});

	if (!window.chrome) {
		window.chrome = {};
	}
	if (!window.chrome.runtime) {
		window.chrome.runtime = {};
	}

	try {
		Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8, configurable: true });
		Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });
	} catch (e) {}

	const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
	if (originalQuery) {
		window.navigator.permissions.query = (parameters) => (
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters)
		);
	}
})();
`
